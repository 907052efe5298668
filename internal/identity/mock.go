package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/voicebridge/hub/internal/herror"
)

// MockClient is an in-memory Identity Client for tests and local
// development without AWS credentials configured.
type MockClient struct {
	mu    sync.Mutex
	users map[string]mockUser // username -> user
	byTok map[string]string   // accessToken -> username
}

type mockUser struct {
	adminID  string
	password string
	email    string
	name     string
}

// NewMockClient returns a MockClient with no accounts; call Seed to
// register one.
func NewMockClient() *MockClient {
	return &MockClient{
		users: make(map[string]mockUser),
		byTok: make(map[string]string),
	}
}

// Seed registers a username/password pair the mock will authenticate.
func (m *MockClient) Seed(username, password, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = mockUser{
		adminID:  uuid.NewString(),
		password: password,
		email:    username,
		name:     displayName,
	}
}

func (m *MockClient) AuthenticateWithPassword(_ context.Context, username, password string) (TokenBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok || u.password != password {
		return TokenBundle{}, herror.New(herror.CodeInvalidCredentials, "unknown username or password", false, nil)
	}
	tok := fmt.Sprintf("mock-access-%s", u.adminID)
	m.byTok[tok] = username
	return TokenBundle{
		AccessToken:  tok,
		IDToken:      fmt.Sprintf("mock-id-%s", u.adminID),
		RefreshToken: fmt.Sprintf("mock-refresh-%s", u.adminID),
		ExpiresIn:    3600,
	}, nil
}

func (m *MockClient) ValidateToken(_ context.Context, accessToken string) (UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	username, ok := m.byTok[accessToken]
	if !ok {
		return UserInfo{}, herror.New(herror.CodeTokenInvalid, "unknown access token", false, nil)
	}
	u := m.users[username]
	return UserInfo{Sub: u.adminID, Email: u.email, Name: u.name}, nil
}

func (m *MockClient) RefreshToken(_ context.Context, refreshToken string) (TokenBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for username, u := range m.users {
		if refreshToken == fmt.Sprintf("mock-refresh-%s", u.adminID) {
			tok := fmt.Sprintf("mock-access-%s", u.adminID)
			m.byTok[tok] = username
			return TokenBundle{
				AccessToken:  tok,
				IDToken:      fmt.Sprintf("mock-id-%s", u.adminID),
				RefreshToken: refreshToken,
				ExpiresIn:    3600,
			}, nil
		}
	}
	return TokenBundle{}, herror.New(herror.CodeRefreshInvalid, "unknown refresh token", false, nil)
}
