package protocol

import "time"

// AdminAuthResponse answers admin-auth.
type AdminAuthResponse struct {
	Type           MessageType `json:"type"`
	Success        bool        `json:"success"`
	AdminID        string      `json:"adminId,omitempty"`
	Username       string      `json:"username,omitempty"`
	DisplayName    string      `json:"displayName,omitempty"`
	AccessToken    string      `json:"accessToken,omitempty"`
	IDToken        string      `json:"idToken,omitempty"`
	RefreshToken   string      `json:"refreshToken,omitempty"`
	ExpiresAt      time.Time   `json:"expiresAt,omitempty"`
	OwnedSessionID []string    `json:"ownedSessions,omitempty"`
	AllSessionID   []string    `json:"allSessions,omitempty"`
	Permissions    []string    `json:"permissions,omitempty"`
}

// TokenRefreshResponse answers token-refresh.
type TokenRefreshResponse struct {
	Type        MessageType `json:"type"`
	AccessToken string      `json:"accessToken"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// StartSessionResponse answers start-session.
type StartSessionResponse struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"sessionId"`
	Config    SessionConfigPayload `json:"config"`
	Status    string               `json:"status"`
}

// EndSessionResponse answers end-session.
type EndSessionResponse struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    string      `json:"status"`
}

// UpdateSessionConfigResponse answers update-session-config.
type UpdateSessionConfigResponse struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"sessionId"`
	Config    SessionConfigPayload `json:"config"`
}

// SessionSummary is one entry of list-sessions-response.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	CreatedBy    string    `json:"createdBy"`
	Status       string    `json:"status"`
	ClientCount  int       `json:"clientCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsOwner      bool      `json:"isOwner"`
}

// ListSessionsResponse answers list-sessions.
type ListSessionsResponse struct {
	Type     MessageType      `json:"type"`
	Sessions []SessionSummary `json:"sessions"`
}

// SessionStatusUpdate notifies an admin of a session's status transition
// it did not directly request (e.g. pause-on-detach).
type SessionStatusUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    string      `json:"status"`
}

// AdminReconnection is sent to an admin's new socket when it reattaches
// to identities that already own active sessions.
type AdminReconnection struct {
	Type           MessageType `json:"type"`
	OwnedSessionID []string    `json:"ownedSessions"`
}

// SessionExpired is sent to a socket whose admin auth session the Token
// Store evicted as expired, following an AUTH_TOKEN_EXPIRED error.
type SessionExpired struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
}

// SessionJoined answers join-session.
type SessionJoined struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"sessionId"`
	Config    SessionConfigPayload `json:"config"`
}

// SessionLeft answers leave-session.
type SessionLeft struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

// SessionEnded notifies joined clients a session ended.
type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Reason    string      `json:"reason,omitempty"`
}

// Translation is the fan-out payload delivered to each client socket,
// carrying only the language it asked for plus an optional audio
// artifact reference.
type Translation struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId"`
	Language    string      `json:"language"`
	Text        string      `json:"text"`
	Original    string      `json:"original"`
	Timestamp   time.Time   `json:"timestamp"`
	AudioURL    string      `json:"audioUrl,omitempty"`
	AudioFormat string      `json:"audioFormat,omitempty"`
	UseLocalTTS bool        `json:"useLocalTTS,omitempty"`
}
