// Package tts implements the TTS Service: a thin, time-bounded wrapper
// around an external text-to-speech backend with a static per-language
// voice mapping.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voicebridge/hub/internal/audio"
	"github.com/voicebridge/hub/internal/reliability"
)

const (
	maxSynthesizeAttempts = 3
	backoffBase           = 200 * time.Millisecond
	backoffCap            = 2 * time.Second
)

// Kind classifies a TTS failure the way the hub's error taxonomy expects.
type Kind string

const (
	KindUnsupportedLanguage Kind = "unsupported_language"
	KindTimeout             Kind = "timeout"
	KindUpstream            Kind = "upstream_error"
)

// Error is the TTSError the contract describes.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("tts %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Result is what a successful synthesis returns.
type Result struct {
	Bytes        []byte
	Format       string
	DurationHint *float64
}

// Provider is the TTS Service contract.
type Provider interface {
	Synthesize(ctx context.Context, text, language, voiceType string) (Result, error)
}

// voiceMap picks a backend voice id per (language, voiceType); a real
// deployment would load this from config, but a static table keeps the
// contract simple and matches the spec's "static mapping" language.
var voiceMap = map[string]map[string]string{
	"neural": {
		"en": "en-US-neural-A",
		"es": "es-ES-neural-A",
		"pt": "pt-BR-neural-A",
		"fr": "fr-FR-neural-A",
		"de": "de-DE-neural-A",
	},
	"standard": {
		"en": "en-US-standard-A",
		"es": "es-ES-standard-A",
		"pt": "pt-BR-standard-A",
		"fr": "fr-FR-standard-A",
		"de": "de-DE-standard-A",
	},
}

// HTTPProvider calls a REST text-to-speech backend.
type HTTPProvider struct {
	baseURL       string
	apiKey        string
	defaultFormat string
	client        *http.Client
	timeout       time.Duration
}

// NewHTTPProvider builds a provider bound to baseURL (e.g. a managed TTS
// API gateway). A request is POSTed per synthesize call with the chosen
// voice id, text, and format; the response body is the raw audio bytes.
func NewHTTPProvider(baseURL, apiKey, defaultFormat string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		defaultFormat: defaultFormat,
		client:        &http.Client{Timeout: timeout},
		timeout:       timeout,
	}
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text, language, voiceType string) (Result, error) {
	voice, ok := voiceMap[voiceType][language]
	if !ok {
		return Result{}, &Error{Kind: KindUnsupportedLanguage, Err: fmt.Errorf("no voice mapped for language %q, voiceType %q", language, voiceType)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxSynthesizeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, &Error{Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(reliability.ExponentialBackoff(attempt, backoffBase, backoffCap)):
			}
		}

		result, status, err := p.doSynthesize(ctx, voice, text)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if status == 0 || !reliability.IsRetryableHTTPStatus(status) {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

// doSynthesize issues a single synthesize request. status is the HTTP
// status observed, 0 if the request never reached the server.
func (p *HTTPProvider) doSynthesize(ctx context.Context, voice, text string) (Result, int, error) {
	url := fmt.Sprintf("%s/v1/synthesize?voice=%s&format=%s", p.baseURL, voice, p.defaultFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(text))
	if err != nil {
		return Result{}, 0, &Error{Kind: KindUpstream, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, 0, &Error{Kind: KindTimeout, Err: err}
		}
		return Result{}, 0, &Error{Kind: KindUpstream, Err: err}
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Result{}, res.StatusCode, &Error{Kind: KindUpstream, Err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))}
	}

	format := p.defaultFormat
	if rate, ok := pcmSampleRate(res.Header.Get("X-Audio-Format")); ok {
		wav, err := audio.EncodeWAVPCM16LE(body, rate)
		if err != nil {
			return Result{}, res.StatusCode, &Error{Kind: KindUpstream, Err: fmt.Errorf("wrap pcm response as wav: %w", err)}
		}
		body = wav
		format = "wav"
	}

	return Result{Bytes: body, Format: format}, res.StatusCode, nil
}

// pcmSampleRate parses a backend's "pcm_<rate>" format hint, e.g. "pcm_16000".
func pcmSampleRate(format string) (int, bool) {
	rateStr, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, false
	}
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// MockProvider synthesizes deterministic placeholder bytes; used in
// tests and local development with TTS_PROVIDER=mock.
type MockProvider struct {
	Format string
	Calls  int
}

func (p *MockProvider) Synthesize(_ context.Context, text, language, voiceType string) (Result, error) {
	if _, ok := voiceMap[voiceType][language]; !ok && voiceType != "" {
		return Result{}, &Error{Kind: KindUnsupportedLanguage, Err: fmt.Errorf("unsupported language %q", language)}
	}
	p.Calls++
	format := p.Format
	if format == "" {
		format = "mp3"
	}
	payload := fmt.Sprintf("MOCK-AUDIO(%s,%s,%s)", text, language, voiceType)
	duration := float64(len(text)) / 15.0
	return Result{Bytes: []byte(payload), Format: format, DurationHint: &duration}, nil
}
