package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cognitotypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"

	"github.com/voicebridge/hub/internal/herror"
	"github.com/voicebridge/hub/internal/reliability"
)

const (
	maxCognitoAttempts = 3
	cognitoBackoffBase = 150 * time.Millisecond
	cognitoBackoffCap  = 1500 * time.Millisecond
)

// TokenBundle is the credential set handed back to an authenticating Admin.
type TokenBundle struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int
}

// UserInfo is the identity-provider profile extracted from a token.
type UserInfo struct {
	Sub   string // stable adminId
	Email string
	Name  string
}

// Client is the Identity Client contract; the hub depends on this
// interface so tests can substitute a fake provider.
type Client interface {
	AuthenticateWithPassword(ctx context.Context, username, password string) (TokenBundle, error)
	ValidateToken(ctx context.Context, accessToken string) (UserInfo, error)
	RefreshToken(ctx context.Context, refreshToken string) (TokenBundle, error)
}

// CognitoClient wraps AWS Cognito's user-pool API.
type CognitoClient struct {
	api          *cognitoidentityprovider.Client
	clientID     string
	clientSecret string
}

// NewCognitoClient resolves AWS credentials/region via the default SDK
// config chain and builds a Cognito Identity Provider client.
func NewCognitoClient(ctx context.Context, region, clientID, clientSecret string) (*CognitoClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CognitoClient{
		api:          cognitoidentityprovider.NewFromConfig(cfg),
		clientID:     clientID,
		clientSecret: clientSecret,
	}, nil
}

func (c *CognitoClient) secretHash(username string) *string {
	if c.clientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(username + c.clientID))
	h := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return &h
}

func (c *CognitoClient) AuthenticateWithPassword(ctx context.Context, username, password string) (TokenBundle, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if hash := c.secretHash(username); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	var out *cognitoidentityprovider.InitiateAuthOutput
	err := withThrottleRetry(ctx, func() error {
		var authErr error
		out, authErr = c.api.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
			AuthFlow:       cognitotypes.AuthFlowTypeUserPasswordAuth,
			ClientId:       aws.String(c.clientID),
			AuthParameters: params,
		})
		if authErr != nil {
			return classifyCognitoError(authErr)
		}
		return nil
	})
	if err != nil {
		return TokenBundle{}, err
	}
	if out.AuthenticationResult == nil {
		return TokenBundle{}, herror.New(herror.CodeInvalidCredentials, "cognito returned no authentication result", false, nil)
	}
	return bundleFromResult(out.AuthenticationResult), nil
}

// withThrottleRetry retries fn with exponential backoff while it keeps
// failing with CodeCognitoThrottled, up to maxCognitoAttempts.
func withThrottleRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxCognitoAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(reliability.ExponentialBackoff(attempt, cognitoBackoffBase, cognitoBackoffCap)):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var env herror.Envelope
		if !errors.As(err, &env) || env.ErrorCode != herror.CodeCognitoThrottled {
			return err
		}
	}
	return lastErr
}

func (c *CognitoClient) RefreshToken(ctx context.Context, refreshToken string) (TokenBundle, error) {
	params := map[string]string{"REFRESH_TOKEN": refreshToken}
	if hash := c.secretHash(""); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	var out *cognitoidentityprovider.InitiateAuthOutput
	err := withThrottleRetry(ctx, func() error {
		var authErr error
		out, authErr = c.api.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
			AuthFlow:       cognitotypes.AuthFlowTypeRefreshTokenAuth,
			ClientId:       aws.String(c.clientID),
			AuthParameters: params,
		})
		if authErr != nil {
			return classifyRefreshError(authErr)
		}
		return nil
	})
	if err != nil {
		return TokenBundle{}, err
	}
	if out.AuthenticationResult == nil {
		return TokenBundle{}, herror.New(herror.CodeRefreshInvalid, "cognito returned no authentication result", false, nil)
	}
	bundle := bundleFromResult(out.AuthenticationResult)
	bundle.RefreshToken = refreshToken // Cognito omits it unless rotation is enabled
	return bundle, nil
}

func (c *CognitoClient) ValidateToken(ctx context.Context, accessToken string) (UserInfo, error) {
	// Fail fast on a structurally invalid token before spending a network
	// round trip: a JWT access token always has sub/exp claims we can read
	// without verifying the signature (Cognito itself is the verifier below).
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{}); err != nil {
		return UserInfo{}, herror.New(herror.CodeTokenInvalid, err.Error(), false, nil)
	}

	out, err := c.api.GetUser(ctx, &cognitoidentityprovider.GetUserInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return UserInfo{}, classifyValidateError(err)
	}

	info := UserInfo{}
	for _, attr := range out.UserAttributes {
		if attr.Name == nil || attr.Value == nil {
			continue
		}
		switch *attr.Name {
		case "sub":
			info.Sub = *attr.Value
		case "email":
			info.Email = *attr.Value
		case "name":
			info.Name = *attr.Value
		}
	}
	if info.Sub == "" {
		return UserInfo{}, herror.New(herror.CodeTokenInvalid, "token missing sub claim", false, nil)
	}
	if info.Name == "" && out.Username != nil {
		info.Name = *out.Username
	}
	return info, nil
}

func bundleFromResult(r *cognitotypes.AuthenticationResultType) TokenBundle {
	bundle := TokenBundle{ExpiresIn: int(r.ExpiresIn)}
	if r.AccessToken != nil {
		bundle.AccessToken = *r.AccessToken
	}
	if r.IdToken != nil {
		bundle.IDToken = *r.IdToken
	}
	if r.RefreshToken != nil {
		bundle.RefreshToken = *r.RefreshToken
	}
	return bundle
}

// ExpiresAt computes the absolute expiry instant for a bundle minted now.
func ExpiresAt(bundle TokenBundle) time.Time {
	return time.Now().Add(time.Duration(bundle.ExpiresIn) * time.Second)
}

func classifyCognitoError(err error) error {
	var nfe *cognitotypes.NotAuthorizedException
	if errors.As(err, &nfe) {
		return herror.New(herror.CodeInvalidCredentials, err.Error(), false, nil)
	}
	var ule *cognitotypes.UserNotFoundException
	if errors.As(err, &ule) {
		return herror.New(herror.CodeInvalidCredentials, err.Error(), false, nil)
	}
	var tme *cognitotypes.TooManyRequestsException
	if errors.As(err, &tme) {
		return herror.New(herror.CodeCognitoThrottled, err.Error(), false, nil)
	}
	return herror.New(herror.CodeCognitoUnavailable, err.Error(), true, nil)
}

func classifyRefreshError(err error) error {
	var nfe *cognitotypes.NotAuthorizedException
	if errors.As(err, &nfe) {
		return herror.New(herror.CodeRefreshExpired, err.Error(), false, nil)
	}
	return classifyCognitoError(err)
}

func classifyValidateError(err error) error {
	var nfe *cognitotypes.NotAuthorizedException
	if errors.As(err, &nfe) {
		return herror.New(herror.CodeTokenExpired, err.Error(), false, nil)
	}
	return classifyCognitoError(err)
}
