// Package session implements the Session Manager: the authoritative
// registry of Sessions, their configuration, client memberships, state
// machine, and on-disk persistence.
package session

import "time"

// Status is one state in the session lifecycle state machine.
type Status string

const (
	StatusStarted Status = "started"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnding  Status = "ending"
	StatusEnded   Status = "ended"
	StatusError   Status = "error"
)

// AudioConfig mirrors the session's audio capture/delivery parameters.
type AudioConfig struct {
	SampleRate int    `json:"sampleRate"`
	Encoding   string `json:"encoding"`
	Channels   int    `json:"channels"`
}

// Config is the SessionConfig entity.
type Config struct {
	SourceLanguage   string      `json:"sourceLanguage"`
	TargetLanguages  []string    `json:"targetLanguages"`
	EnabledLanguages []string    `json:"enabledLanguages"`
	TTSMode          string      `json:"ttsMode"`
	AudioQuality     string      `json:"audioQuality"`
	AudioConfig      AudioConfig `json:"audioConfig"`
}

// AudioCapabilities describes what a Client socket can play back locally.
type AudioCapabilities struct {
	SupportsCloudAudio bool     `json:"supportsCloudAudio"`
	LocalTTSLanguages  []string `json:"localTTSLanguages,omitempty"`
	AudioFormats       []string `json:"audioFormats,omitempty"`
}

// ClientMembership is one Client socket's attachment to a Session.
type ClientMembership struct {
	SocketID          string            `json:"socketId"`
	PreferredLanguage string            `json:"preferredLanguage"`
	JoinedAt          time.Time         `json:"joinedAt"`
	LastSeen          time.Time         `json:"lastSeen"`
	AudioCapabilities AudioCapabilities `json:"audioCapabilities"`
}

// Session is the persisted Session entity.
type Session struct {
	SessionID            string                      `json:"sessionId"`
	AdminID              string                      `json:"adminId"`
	CurrentAdminSocketID string                      `json:"currentAdminSocketId,omitempty"`
	CreatedBy            string                      `json:"createdBy"`
	Config               Config                      `json:"config"`
	Clients              map[string]ClientMembership `json:"clients"`
	CreatedAt            time.Time                   `json:"createdAt"`
	LastActivity         time.Time                   `json:"lastActivity"`
	Status               Status                      `json:"status"`
	AdminDetachedAt      *time.Time                  `json:"adminDetachedAt,omitempty"`
}

// Summary is the read-only projection returned by ListSessions.
type Summary struct {
	SessionID    string    `json:"sessionId"`
	CreatedBy    string    `json:"createdBy"`
	Status       Status    `json:"status"`
	ClientCount  int       `json:"clientCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsOwner      bool      `json:"isOwner"`
}

func (c Config) enabledSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.EnabledLanguages))
	for _, l := range c.EnabledLanguages {
		set[l] = struct{}{}
	}
	return set
}

// LanguageEnabled reports whether L is in the session's enabled set.
func (c Config) LanguageEnabled(l string) bool {
	_, ok := c.enabledSet()[l]
	return ok
}

func clone(s *Session) *Session {
	cp := *s
	cp.Config.TargetLanguages = append([]string(nil), s.Config.TargetLanguages...)
	cp.Config.EnabledLanguages = append([]string(nil), s.Config.EnabledLanguages...)
	cp.Clients = make(map[string]ClientMembership, len(s.Clients))
	for k, v := range s.Clients {
		cp.Clients[k] = v
	}
	if s.AdminDetachedAt != nil {
		t := *s.AdminDetachedAt
		cp.AdminDetachedAt = &t
	}
	return &cp
}
