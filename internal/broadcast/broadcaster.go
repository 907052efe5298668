// Package broadcast implements the Broadcaster: per-language fan-out of
// an admin's translated text (and, optionally, synthesized audio) to
// every Client socket attached to a session.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voicebridge/hub/internal/audiocache"
	"github.com/voicebridge/hub/internal/observability"
	"github.com/voicebridge/hub/internal/protocol"
	"github.com/voicebridge/hub/internal/session"
	"github.com/voicebridge/hub/internal/tts"
)

var (
	ErrNotOwner  = errors.New("requester does not own this session")
	ErrNoContent = errors.New("no translation available for session's enabled languages")
)

// Sender delivers an outbound message to one socket. A non-nil error
// means the socket is gone or backed up; the broadcaster logs and skips
// rather than tearing anything down itself.
type Sender interface {
	Send(socketID string, v any) error
}

// AudioResolver turns a cached artifact id into the URL a Client should
// fetch it from; the HTTP Audio Server owns the actual route shape.
type AudioResolver func(artifactID string) string

// Broadcaster fans out broadcast-translation messages.
type Broadcaster struct {
	sessions      *session.Manager
	cache         *audiocache.Cache
	tts           tts.Provider
	sender        Sender
	resolveAudio  AudioResolver
	metrics       *observability.Metrics
}

// New builds a Broadcaster. metrics may be nil in tests.
func New(sessions *session.Manager, cache *audiocache.Cache, provider tts.Provider, sender Sender, resolveAudio AudioResolver, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		sessions:     sessions,
		cache:        cache,
		tts:          provider,
		sender:       sender,
		resolveAudio: resolveAudio,
		metrics:      metrics,
	}
}

// Broadcast validates ownership, then delivers one Translation message
// per attached Client socket using the translation for that socket's
// preferredLanguage (falling back to original text if no translation
// was supplied for that language). When msg.GenerateTTS is set, audio is
// synthesized at most once per (text, language, voiceType) fingerprint
// via the Audio Cache, and every recipient sharing that fingerprint
// receives the same artifact reference.
func (b *Broadcaster) Broadcast(ctx context.Context, requesterAdminID string, msg *protocol.BroadcastTranslation) (recipients int, err error) {
	sess, err := b.sessions.Get(msg.SessionID)
	if err != nil {
		return 0, err
	}
	if sess.AdminID != requesterAdminID {
		return 0, ErrNotOwner
	}

	now := time.Now().UTC()
	for _, membership := range sess.Clients {
		lang := membership.PreferredLanguage
		if !sess.Config.LanguageEnabled(lang) {
			continue
		}
		text, ok := msg.Translations[lang]
		if !ok || text == "" {
			text = msg.Original
		}

		out := protocol.Translation{
			Type:      protocol.TypeTranslation,
			SessionID: msg.SessionID,
			Language:  lang,
			Text:      text,
			Original:  msg.Original,
			Timestamp: now,
		}

		switch sess.Config.TTSMode {
		case "local":
			out.UseLocalTTS = true
		case "disabled":
			// text-only, regardless of msg.GenerateTTS
		default:
			if msg.GenerateTTS && membership.AudioCapabilities.SupportsCloudAudio {
				artifact, synthErr := b.synthesize(ctx, text, lang, msg.VoiceType)
				if synthErr != nil {
					// Audio is an enhancement; deliver text-only rather than
					// dropping the whole recipient on a TTS failure.
					if b.sendOne(membership.SocketID, out, msg.Type) {
						recipients++
					}
					continue
				}
				out.AudioFormat = artifact.Format
				if b.resolveAudio != nil {
					out.AudioURL = b.resolveAudio(artifact.ArtifactID)
				}
			}
		}

		if b.sendOne(membership.SocketID, out, msg.Type) {
			recipients++
		}
	}

	if b.metrics != nil {
		b.metrics.ObserveBroadcast(recipients)
	}
	if recipients == 0 && len(sess.Clients) > 0 {
		return 0, ErrNoContent
	}
	return recipients, nil
}

func (b *Broadcaster) synthesize(ctx context.Context, text, language, voiceType string) (*audiocache.AudioArtifact, error) {
	start := time.Now()
	hit := true
	artifact, err := b.cache.GetOrSynthesize(ctx, text, language, voiceType, func(ctx context.Context) ([]byte, string, *float64, error) {
		hit = false
		res, err := b.tts.Synthesize(ctx, text, language, voiceType)
		if err != nil {
			return nil, "", nil, fmt.Errorf("synthesize: %w", err)
		}
		return res.Bytes, res.Format, res.DurationHint, nil
	})
	if b.metrics != nil {
		b.metrics.ObserveCacheLookup(hit)
		b.metrics.ObserveTTSSynthesis(hit, time.Since(start))
	}
	return artifact, err
}

// sendOne delivers v to socketID, recording a skip-not-disconnect metric
// on failure rather than propagating the error: a slow or gone socket
// must never stall delivery to the rest of the session.
func (b *Broadcaster) sendOne(socketID string, v any, msgType protocol.MessageType) bool {
	if err := b.sender.Send(socketID, v); err != nil {
		if b.metrics != nil {
			b.metrics.ObserveOutboundMessage(string(msgType), "skipped")
		}
		return false
	}
	if b.metrics != nil {
		b.metrics.ObserveOutboundMessage(string(msgType), "delivered")
	}
	return true
}
