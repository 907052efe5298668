// Package router implements the Message Router: the single dispatch
// point every inbound WebSocket frame passes through — parse, require
// auth where the message needs it, check ownership, apply rate limits,
// then hand off to the owning component and queue the response.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/voicebridge/hub/internal/adminidentity"
	"github.com/voicebridge/hub/internal/broadcast"
	"github.com/voicebridge/hub/internal/herror"
	"github.com/voicebridge/hub/internal/identity"
	"github.com/voicebridge/hub/internal/observability"
	"github.com/voicebridge/hub/internal/protocol"
	"github.com/voicebridge/hub/internal/security"
	"github.com/voicebridge/hub/internal/session"
)

// RequestContext identifies the socket a frame arrived on.
type RequestContext struct {
	SocketID   string
	RemoteAddr string
}

// Router wires every component that a dispatched message might need.
type Router struct {
	tokens      *identity.TokenStore
	admins      *adminidentity.Manager
	sessions    *session.Manager
	idClient    identity.Client
	sec         *security.Middleware
	errs        *herror.Manager
	broadcaster *broadcast.Broadcaster
	metrics     *observability.Metrics
	sender      broadcast.Sender
}

// New builds a Router. sender delivers messages to sockets other than the
// one that triggered the current Dispatch call (e.g. notifying joined
// clients of a session status change); it may be nil in tests that don't
// exercise that fan-out.
func New(tokens *identity.TokenStore, admins *adminidentity.Manager, sessions *session.Manager, idClient identity.Client, sec *security.Middleware, errs *herror.Manager, broadcaster *broadcast.Broadcaster, metrics *observability.Metrics, sender broadcast.Sender) *Router {
	return &Router{
		tokens:      tokens,
		admins:      admins,
		sessions:    sessions,
		idClient:    idClient,
		sec:         sec,
		errs:        errs,
		broadcaster: broadcaster,
		metrics:     metrics,
		sender:      sender,
	}
}

// notifyClients delivers v to every Client socket attached to sess,
// skipping silently on send failure the same way the Broadcaster does.
func (r *Router) notifyClients(sess *session.Session, v any) {
	if r.sender == nil || sess == nil {
		return
	}
	for socketID := range sess.Clients {
		_ = r.sender.Send(socketID, v)
	}
}

// isAdminMessage reports whether msg is a wire type only an authenticated
// Admin socket may send, so Dispatch can enforce auth generically.
func isAdminMessage(msg any) bool {
	switch msg.(type) {
	case *protocol.StartSession, *protocol.EndSession, *protocol.UpdateSessionConfig,
		*protocol.ListSessions, *protocol.BroadcastTranslation:
		return true
	}
	return false
}

// Dispatch handles one decoded inbound frame and returns zero or more
// outbound messages to deliver to rc.SocketID, or an herror.Envelope to
// deliver instead on failure. The caller (the Connection Supervisor)
// owns actually writing to the socket.
func (r *Router) Dispatch(ctx context.Context, rc RequestContext, raw []byte) []any {
	msg, err := protocol.ParseInboundMessage(raw)
	if err != nil {
		return []any{herror.New(herror.CodeValidationInvalidInput, err.Error(), false, nil)}
	}

	op := string(protocol.TypeOf(msg))

	// Resolve the requester's adminId before rate-limiting so the
	// per-operation token bucket is keyed by (adminId, operation), not by
	// socketId: an admin with two open sockets must share one bucket.
	// Pre-auth requests (including admin-auth itself) have no adminId yet
	// and fall back to a per-socket bucket.
	var adminID string
	rateLimitKey := rc.SocketID
	if isAdminMessage(msg) {
		id, ok := r.tokens.AdminIDFor(rc.SocketID)
		if !ok {
			return []any{herror.New(herror.CodeTokenExpired, "socket is not authenticated", true, nil)}
		}
		adminID = id
		rateLimitKey = id
	}

	if ok, retryAfter := r.sec.AllowOperation(rateLimitKey, op); !ok {
		if r.metrics != nil {
			r.metrics.ObserveRateLimitRejection(op)
		}
		env := herror.New(herror.CodeSystemRateLimited, "operation rate limit exceeded", adminID != "" || r.isAdminSocket(rc.SocketID), nil)
		env = herror.WithRetryAfter(env, retryAfter)
		return []any{env}
	}

	switch m := msg.(type) {
	case *protocol.AdminAuth:
		return r.handleAdminAuth(ctx, rc, m)
	case *protocol.TokenRefresh:
		return r.handleTokenRefresh(ctx, rc, m)
	case *protocol.StartSession:
		return r.handleStartSession(rc, adminID, m)
	case *protocol.EndSession:
		return r.handleEndSession(adminID, m)
	case *protocol.UpdateSessionConfig:
		return r.handleUpdateSessionConfig(adminID, m)
	case *protocol.ListSessions:
		return r.handleListSessions(adminID, m)
	case *protocol.BroadcastTranslation:
		return r.handleBroadcastTranslation(ctx, adminID, m)
	case *protocol.JoinSession:
		return r.handleJoinSession(rc, m)
	case *protocol.LeaveSession:
		return r.handleLeaveSession(rc, m)
	case *protocol.ChangeLanguage:
		return r.handleChangeLanguage(rc, m)
	default:
		return []any{herror.New(herror.CodeValidationInvalidInput, "unhandled message type", false, nil)}
	}
}

func (r *Router) isAdminSocket(socketID string) bool {
	_, ok := r.tokens.AdminIDFor(socketID)
	return ok
}

func (r *Router) handleAdminAuth(ctx context.Context, rc RequestContext, m *protocol.AdminAuth) []any {
	var bundle identity.TokenBundle
	var info identity.UserInfo
	var err error

	switch m.Method {
	case "credentials":
		bundle, err = r.idClient.AuthenticateWithPassword(ctx, m.Username, m.Password)
		if err == nil {
			info, err = r.idClient.ValidateToken(ctx, bundle.AccessToken)
		}
	case "token":
		bundle.AccessToken = m.AccessToken
		info, err = r.idClient.ValidateToken(ctx, m.AccessToken)
	default:
		return []any{herror.New(herror.CodeValidationInvalidInput, "unsupported auth method", true, nil)}
	}

	if err != nil {
		r.sec.RecordAuthFailure(rc.RemoteAddr)
		r.errs.LogSecurityEvent(ctx, herror.CodeInvalidCredentials, "", rc.RemoteAddr, "admin-auth", err.Error())
		return []any{herror.New(herror.CodeInvalidCredentials, err.Error(), true, nil)}
	}
	r.sec.RecordAuthSuccess(rc.RemoteAddr)

	expiresAt := identity.ExpiresAt(bundle)
	r.tokens.Put(identity.AuthSession{
		SocketID:     rc.SocketID,
		AdminID:      info.Sub,
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		IDToken:      bundle.IDToken,
		ExpiresAt:    expiresAt,
	})

	reconnected, err := r.admins.Attach(info.Sub, rc.SocketID, info.Name)
	if err != nil {
		return []any{r.errs.FromError(err, "admin-auth")}
	}

	// Reattach every session this admin owns to the new socket: a paused
	// session (owner previously detached past the grace window) resumes
	// to active, and clients of a resumed session are told so.
	ownedSessionIDs := r.sessions.OwnedSessionIDs(info.Sub)
	for _, sessionID := range ownedSessionIDs {
		before, beforeErr := r.sessions.Get(sessionID)
		updated, err := r.sessions.UpdateAdminSocket(sessionID, rc.SocketID)
		if err != nil {
			continue
		}
		if beforeErr == nil && before.Status == session.StatusPaused && updated.Status == session.StatusActive {
			r.notifyClients(updated, protocol.SessionStatusUpdate{
				Type:      protocol.TypeSessionStatusUpdate,
				SessionID: updated.SessionID,
				Status:    string(updated.Status),
			})
		}
	}

	out := []any{protocol.AdminAuthResponse{
		Type:           protocol.TypeAdminAuthResponse,
		Success:        true,
		AdminID:        info.Sub,
		Username:       info.Email,
		DisplayName:    info.Name,
		AccessToken:    bundle.AccessToken,
		IDToken:        bundle.IDToken,
		RefreshToken:   bundle.RefreshToken,
		ExpiresAt:      expiresAt,
		OwnedSessionID: ownedSessionIDs,
		AllSessionID:   r.sessions.AllSessionIDs(),
		Permissions:    []string{"session:create", "session:manage", "session:broadcast"},
	}}
	if reconnected {
		out = append(out, protocol.AdminReconnection{
			Type:           protocol.TypeAdminReconnection,
			OwnedSessionID: ownedSessionIDs,
		})
	}
	return out
}

func (r *Router) handleTokenRefresh(ctx context.Context, rc RequestContext, m *protocol.TokenRefresh) []any {
	bundle, err := r.idClient.RefreshToken(ctx, m.RefreshToken)
	if err != nil {
		return []any{herror.New(herror.CodeRefreshInvalid, err.Error(), true, nil)}
	}
	expiresAt := identity.ExpiresAt(bundle)
	if sess, ok := r.tokens.Get(rc.SocketID); ok {
		sess.AccessToken = bundle.AccessToken
		sess.ExpiresAt = expiresAt
		r.tokens.Put(sess)
	}
	return []any{protocol.TokenRefreshResponse{
		Type:        protocol.TypeTokenRefreshResponse,
		AccessToken: bundle.AccessToken,
		ExpiresAt:   expiresAt,
	}}
}

func (r *Router) handleStartSession(rc RequestContext, adminID string, m *protocol.StartSession) []any {
	cfg := toSessionConfig(m.Config)
	sess, err := r.sessions.CreateSession(m.SessionID, cfg, adminID, rc.SocketID, adminID)
	if err != nil {
		return []any{r.sessionError(err, "start-session", m.SessionID)}
	}
	if err := r.admins.AddOwnedSession(adminID, m.SessionID); err != nil {
		return []any{r.errs.FromError(err, "start-session")}
	}
	if r.metrics != nil {
		r.metrics.ObserveSessionEvent("started")
		r.metrics.ActiveSessions.Set(float64(r.sessions.ActiveCount()))
	}
	return []any{protocol.StartSessionResponse{
		Type:      protocol.TypeStartSessionResponse,
		SessionID: sess.SessionID,
		Config:    fromSessionConfig(sess.Config),
		Status:    string(sess.Status),
	}}
}

func (r *Router) handleEndSession(adminID string, m *protocol.EndSession) []any {
	// Captured before EndSession clears the membership map, so the
	// departing clients can still be notified of the session-ended event.
	before, _ := r.sessions.Get(m.SessionID)

	sess, err := r.sessions.EndSession(m.SessionID, adminID)
	if err != nil {
		return []any{r.sessionError(err, "end-session", m.SessionID)}
	}
	_ = r.admins.RemoveOwnedSession(adminID, m.SessionID)
	if r.metrics != nil {
		r.metrics.ObserveSessionEvent("ended")
		r.metrics.ActiveSessions.Set(float64(r.sessions.ActiveCount()))
	}
	r.notifyClients(before, protocol.SessionEnded{
		Type:      protocol.TypeSessionEnded,
		SessionID: sess.SessionID,
	})
	return []any{protocol.EndSessionResponse{
		Type:      protocol.TypeEndSessionResponse,
		SessionID: sess.SessionID,
		Status:    string(sess.Status),
	}}
}

func (r *Router) handleUpdateSessionConfig(adminID string, m *protocol.UpdateSessionConfig) []any {
	sess, err := r.sessions.UpdateConfig(m.SessionID, toSessionConfig(m.Config), adminID)
	if err != nil {
		return []any{r.sessionError(err, "update-session-config", m.SessionID)}
	}
	r.notifyClients(sess, protocol.SessionStatusUpdate{
		Type:      protocol.TypeSessionStatusUpdate,
		SessionID: sess.SessionID,
		Status:    string(sess.Status),
	})
	return []any{protocol.UpdateSessionConfigResponse{
		Type:      protocol.TypeUpdateSessionConfigResponse,
		SessionID: sess.SessionID,
		Config:    fromSessionConfig(sess.Config),
	}}
}

func (r *Router) handleListSessions(adminID string, m *protocol.ListSessions) []any {
	summaries := r.sessions.ListSessions(adminID, m.Filter)
	out := make([]protocol.SessionSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, protocol.SessionSummary{
			SessionID:    s.SessionID,
			CreatedBy:    s.CreatedBy,
			Status:       string(s.Status),
			ClientCount:  s.ClientCount,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			IsOwner:      s.IsOwner,
		})
	}
	return []any{protocol.ListSessionsResponse{Type: protocol.TypeListSessionsResponse, Sessions: out}}
}

func (r *Router) handleBroadcastTranslation(ctx context.Context, adminID string, m *protocol.BroadcastTranslation) []any {
	_, err := r.broadcaster.Broadcast(ctx, adminID, m)
	if err != nil {
		if errors.Is(err, broadcast.ErrNotOwner) {
			return []any{herror.New(herror.CodeSessionNotOwned, err.Error(), true, &herror.Details{SessionID: m.SessionID})}
		}
		return []any{r.sessionError(err, "broadcast-translation", m.SessionID)}
	}
	return nil
}

func (r *Router) handleJoinSession(rc RequestContext, m *protocol.JoinSession) []any {
	caps := session.AudioCapabilities{
		SupportsCloudAudio: m.AudioCapabilities.SupportsCloudAudio,
		LocalTTSLanguages:  m.AudioCapabilities.LocalTTSLanguages,
		AudioFormats:       m.AudioCapabilities.AudioFormats,
	}
	sess, err := r.sessions.JoinClient(m.SessionID, rc.SocketID, m.PreferredLanguage, caps)
	if err != nil {
		return []any{r.sessionError(err, "join-session", m.SessionID)}
	}
	if r.metrics != nil {
		r.metrics.ObserveSessionEvent("client_joined")
	}
	return []any{protocol.SessionJoined{
		Type:      protocol.TypeSessionJoined,
		SessionID: sess.SessionID,
		Config:    fromSessionConfig(sess.Config),
	}}
}

func (r *Router) handleLeaveSession(rc RequestContext, m *protocol.LeaveSession) []any {
	if _, err := r.sessions.LeaveClient(m.SessionID, rc.SocketID); err != nil {
		return []any{r.sessionError(err, "leave-session", m.SessionID)}
	}
	if r.metrics != nil {
		r.metrics.ObserveSessionEvent("client_left")
	}
	return []any{protocol.SessionLeft{Type: protocol.TypeSessionLeft, SessionID: m.SessionID}}
}

func (r *Router) handleChangeLanguage(rc RequestContext, m *protocol.ChangeLanguage) []any {
	if _, err := r.sessions.SetClientLanguage(m.SessionID, rc.SocketID, m.NewLanguage); err != nil {
		return []any{herror.New(herror.CodeValidationInvalidLanguage, err.Error(), false, &herror.Details{SessionID: m.SessionID})}
	}
	return nil
}

// sessionError maps a session.Manager sentinel error to the matching
// error code, addressed to whichever kind of socket triggered it.
func (r *Router) sessionError(err error, operation, sessionID string) herror.Envelope {
	forAdmin := true
	details := &herror.Details{SessionID: sessionID, Operation: operation}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return herror.New(herror.CodeSessionNotFound, err.Error(), forAdmin, details)
	case errors.Is(err, session.ErrAlreadyExists):
		return herror.New(herror.CodeSessionAlreadyExists, err.Error(), forAdmin, details)
	case errors.Is(err, session.ErrNotOwner):
		return herror.New(herror.CodeSessionNotOwned, err.Error(), forAdmin, details)
	case errors.Is(err, session.ErrTerminal):
		return herror.New(herror.CodeOperationNotAllowed, err.Error(), forAdmin, details)
	case errors.Is(err, session.ErrClientLimitReached):
		return herror.New(herror.CodeSessionClientLimitExceeded, err.Error(), false, details)
	case errors.Is(err, session.ErrInvalidConfig):
		return herror.New(herror.CodeSessionInvalidConfig, err.Error(), forAdmin, details)
	default:
		return r.errs.FromError(fmt.Errorf("%s: %w", operation, err), operation)
	}
}

func toSessionConfig(p protocol.SessionConfigPayload) session.Config {
	cfg := session.Config{
		SourceLanguage:   p.SourceLanguage,
		TargetLanguages:  p.TargetLanguages,
		EnabledLanguages: p.EnabledLanguages,
		TTSMode:          p.TTSMode,
		AudioQuality:     p.AudioQuality,
	}
	if p.AudioConfig != nil {
		cfg.AudioConfig = session.AudioConfig{
			SampleRate: p.AudioConfig.SampleRate,
			Encoding:   p.AudioConfig.Encoding,
			Channels:   p.AudioConfig.Channels,
		}
	}
	return cfg
}

func fromSessionConfig(c session.Config) protocol.SessionConfigPayload {
	return protocol.SessionConfigPayload{
		SourceLanguage:   c.SourceLanguage,
		TargetLanguages:  c.TargetLanguages,
		EnabledLanguages: c.EnabledLanguages,
		TTSMode:          c.TTSMode,
		AudioQuality:     c.AudioQuality,
		AudioConfig: &protocol.AudioConfig{
			SampleRate: c.AudioConfig.SampleRate,
			Encoding:   c.AudioConfig.Encoding,
			Channels:   c.AudioConfig.Channels,
		},
	}
}
