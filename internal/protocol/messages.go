// Package protocol defines the WebSocket wire messages exchanged between
// the hub and Admin/Client sockets, and the catch-all decoder that turns
// a raw JSON frame into one of the typed variants below.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// MessageType identifies the shape of a WebSocket frame.
type MessageType string

const (
	// Admin -> hub
	TypeAdminAuth            MessageType = "admin-auth"
	TypeTokenRefresh         MessageType = "token-refresh"
	TypeStartSession         MessageType = "start-session"
	TypeEndSession           MessageType = "end-session"
	TypeUpdateSessionConfig  MessageType = "update-session-config"
	TypeListSessions         MessageType = "list-sessions"
	TypeBroadcastTranslation MessageType = "broadcast-translation"

	// Client -> hub
	TypeJoinSession    MessageType = "join-session"
	TypeLeaveSession   MessageType = "leave-session"
	TypeChangeLanguage MessageType = "change-language"

	// hub -> Admin
	TypeAdminAuthResponse           MessageType = "admin-auth-response"
	TypeTokenRefreshResponse        MessageType = "token-refresh-response"
	TypeStartSessionResponse        MessageType = "start-session-response"
	TypeEndSessionResponse          MessageType = "end-session-response"
	TypeUpdateSessionConfigResponse MessageType = "update-session-config-response"
	TypeListSessionsResponse        MessageType = "list-sessions-response"
	TypeSessionStatusUpdate         MessageType = "session-status-update"
	TypeAdminReconnection           MessageType = "admin-reconnection"
	TypeSessionExpired              MessageType = "session-expired"
	TypeAdminError                  MessageType = "admin-error"

	// hub -> Client
	TypeSessionJoined MessageType = "session-joined"
	TypeSessionLeft   MessageType = "session-left"
	TypeTranslation   MessageType = "translation"
	TypeSessionEnded  MessageType = "session-ended"
	TypeError         MessageType = "error"
)

// ErrUnsupportedType is returned by ParseInboundMessage for an unknown
// or unhandled `type` field.
var ErrUnsupportedType = errors.New("unsupported message type")

var validate = validator.New()

// langTagRE is a pragmatic BCP-47-ish matcher: a primary subtag plus
// optional hyphenated subtags (en, pt-BR, zh-Hans-CN).
var langTagRE = regexp.MustCompile(`^[A-Za-z]{2,8}(-[A-Za-z0-9]{1,8})*$`)

func init() {
	_ = validate.RegisterValidation("bcp47", func(fl validator.FieldLevel) bool {
		return langTagRE.MatchString(fl.Field().String())
	})
}

// AudioConfig mirrors the session's audio capture/delivery parameters.
type AudioConfig struct {
	SampleRate int    `json:"sampleRate" validate:"oneof=8000 16000 22050 44100 48000"`
	Encoding   string `json:"encoding" validate:"oneof=pcm opus flac"`
	Channels   int    `json:"channels" validate:"oneof=1 2"`
}

// SessionConfigPayload is the wire shape of SessionConfig. The same
// struct backs both start-session (fully populated) and
// update-session-config (partial, zero-valued fields left unset).
type SessionConfigPayload struct {
	SourceLanguage   string       `json:"sourceLanguage,omitempty" validate:"omitempty,bcp47"`
	TargetLanguages  []string     `json:"targetLanguages,omitempty" validate:"omitempty,dive,bcp47"`
	EnabledLanguages []string     `json:"enabledLanguages,omitempty" validate:"omitempty,dive,bcp47"`
	TTSMode          string       `json:"ttsMode,omitempty" validate:"omitempty,oneof=neural standard local disabled"`
	AudioQuality     string       `json:"audioQuality,omitempty" validate:"omitempty,oneof=high medium low"`
	AudioConfig      *AudioConfig `json:"audioConfig,omitempty" validate:"omitempty"`
}

// AudioCapabilities describes what a Client socket can play back locally.
type AudioCapabilities struct {
	SupportsCloudAudio bool     `json:"supportsCloudAudio"`
	LocalTTSLanguages  []string `json:"localTTSLanguages,omitempty"`
	AudioFormats       []string `json:"audioFormats,omitempty"`
}

// --- Admin -> hub ---

type AdminAuth struct {
	Type        MessageType `json:"type"`
	Method      string      `json:"method" validate:"required,oneof=credentials token"`
	Username    string      `json:"username,omitempty"`
	Password    string      `json:"password,omitempty"`
	AccessToken string      `json:"accessToken,omitempty"`
}

type TokenRefresh struct {
	Type         MessageType `json:"type"`
	RefreshToken string      `json:"refreshToken" validate:"required"`
}

type StartSession struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"sessionId" validate:"required"`
	Config    SessionConfigPayload `json:"config" validate:"required"`
}

type EndSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId" validate:"required"`
	Reason    string      `json:"reason,omitempty"`
}

type UpdateSessionConfig struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"sessionId" validate:"required"`
	Config    SessionConfigPayload `json:"config"`
}

type ListSessions struct {
	Type   MessageType `json:"type"`
	Filter string      `json:"filter,omitempty" validate:"omitempty,oneof=owned all"`
}

type BroadcastTranslation struct {
	Type         MessageType       `json:"type"`
	SessionID    string            `json:"sessionId" validate:"required"`
	Original     string            `json:"original" validate:"required"`
	Translations map[string]string `json:"translations" validate:"required,min=1"`
	GenerateTTS  bool              `json:"generateTTS"`
	VoiceType    string            `json:"voiceType,omitempty" validate:"omitempty,oneof=neural standard"`
}

// --- Client -> hub ---

type JoinSession struct {
	Type              MessageType       `json:"type"`
	SessionID         string            `json:"sessionId" validate:"required"`
	PreferredLanguage string            `json:"preferredLanguage" validate:"required,bcp47"`
	AudioCapabilities AudioCapabilities `json:"audioCapabilities"`
}

type LeaveSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId" validate:"required"`
}

type ChangeLanguage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId" validate:"required"`
	NewLanguage string      `json:"newLanguage" validate:"required,bcp47"`
}

// clientInbound is the permissive shape every inbound frame is first
// decoded into; Type then drives construction and validation of the
// specific typed message above.
type clientInbound struct {
	Type              MessageType          `json:"type"`
	Method            string               `json:"method"`
	Username          string               `json:"username"`
	Password          string               `json:"password"`
	AccessToken       string               `json:"accessToken"`
	RefreshToken      string               `json:"refreshToken"`
	SessionID         string               `json:"sessionId"`
	Config            SessionConfigPayload `json:"config"`
	Reason            string               `json:"reason"`
	Filter            string               `json:"filter"`
	Original          string               `json:"original"`
	Translations      map[string]string    `json:"translations"`
	GenerateTTS       bool                 `json:"generateTTS"`
	VoiceType         string               `json:"voiceType"`
	PreferredLanguage string               `json:"preferredLanguage"`
	AudioCapabilities AudioCapabilities    `json:"audioCapabilities"`
	NewLanguage       string               `json:"newLanguage"`
}

// ParseInboundMessage decodes a raw WebSocket frame into one of the
// typed Admin/Client message structs above, running struct-tag
// validation before returning it. The returned error is suitable for
// mapping to a VALIDATION_* code by the caller.
func ParseInboundMessage(raw []byte) (any, error) {
	var in clientInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if in.Type == "" {
		return nil, errors.New("missing required field: type")
	}

	var msg any
	switch in.Type {
	case TypeAdminAuth:
		msg = &AdminAuth{Type: in.Type, Method: in.Method, Username: in.Username, Password: in.Password, AccessToken: in.AccessToken}
	case TypeTokenRefresh:
		msg = &TokenRefresh{Type: in.Type, RefreshToken: in.RefreshToken}
	case TypeStartSession:
		msg = &StartSession{Type: in.Type, SessionID: in.SessionID, Config: in.Config}
	case TypeEndSession:
		msg = &EndSession{Type: in.Type, SessionID: in.SessionID, Reason: in.Reason}
	case TypeUpdateSessionConfig:
		msg = &UpdateSessionConfig{Type: in.Type, SessionID: in.SessionID, Config: in.Config}
	case TypeListSessions:
		msg = &ListSessions{Type: in.Type, Filter: in.Filter}
	case TypeBroadcastTranslation:
		msg = &BroadcastTranslation{Type: in.Type, SessionID: in.SessionID, Original: in.Original, Translations: in.Translations, GenerateTTS: in.GenerateTTS, VoiceType: in.VoiceType}
	case TypeJoinSession:
		msg = &JoinSession{Type: in.Type, SessionID: in.SessionID, PreferredLanguage: in.PreferredLanguage, AudioCapabilities: in.AudioCapabilities}
	case TypeLeaveSession:
		msg = &LeaveSession{Type: in.Type, SessionID: in.SessionID}
	case TypeChangeLanguage:
		msg = &ChangeLanguage{Type: in.Type, SessionID: in.SessionID, NewLanguage: in.NewLanguage}
	default:
		return nil, ErrUnsupportedType
	}

	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return msg, nil
}

// TypeOf returns the wire type string for a decoded message, used for
// metrics labeling and logging.
func TypeOf(v any) MessageType {
	switch m := v.(type) {
	case *AdminAuth:
		return m.Type
	case *TokenRefresh:
		return m.Type
	case *StartSession:
		return m.Type
	case *EndSession:
		return m.Type
	case *UpdateSessionConfig:
		return m.Type
	case *ListSessions:
		return m.Type
	case *BroadcastTranslation:
		return m.Type
	case *JoinSession:
		return m.Type
	case *LeaveSession:
		return m.Type
	case *ChangeLanguage:
		return m.Type
	default:
		return "unknown"
	}
}
