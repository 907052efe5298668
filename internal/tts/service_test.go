package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPProviderRejectsUnsupportedLanguage(t *testing.T) {
	p := NewHTTPProvider("http://unused.invalid", "", "mp3", time.Second)
	_, err := p.Synthesize(context.Background(), "hi", "xx", "neural")
	var tErr *Error
	if !errors.As(err, &tErr) || tErr.Kind != KindUnsupportedLanguage {
		t.Fatalf("err = %v, want KindUnsupportedLanguage", err)
	}
}

func TestHTTPProviderReturnsBytesOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", "mp3", time.Second)
	res, err := p.Synthesize(context.Background(), "hello", "en", "neural")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Bytes) != "audio-bytes" || res.Format != "mp3" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHTTPProviderWrapsRawPCMResponseAsWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Audio-Format", "pcm_16000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 320)) // 10ms of 16kHz mono PCM16LE
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", "mp3", time.Second)
	res, err := p.Synthesize(context.Background(), "hello", "en", "neural")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Format != "wav" {
		t.Fatalf("Format = %q, want wav", res.Format)
	}
	if len(res.Bytes) <= 320 {
		t.Fatalf("expected WAV-wrapped bytes to be larger than raw PCM (header added), got %d bytes", len(res.Bytes))
	}
	if string(res.Bytes[:4]) != "RIFF" {
		t.Fatalf("wrapped bytes missing RIFF header: %q", res.Bytes[:4])
	}
}

func TestHTTPProviderRetriesOnRetryableStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", "mp3", 2*time.Second)
	res, err := p.Synthesize(context.Background(), "hello", "en", "neural")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Bytes) != "ok" {
		t.Fatalf("unexpected result bytes: %q", res.Bytes)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPProviderDoesNotRetryNonRetryableStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", "mp3", time.Second)
	_, err := p.Synthesize(context.Background(), "hello", "en", "neural")
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-retryable status must not retry)", attempts)
	}
}

func TestMockProviderIsDeterministicAndCounts(t *testing.T) {
	p := &MockProvider{Format: "ogg"}
	res1, err := p.Synthesize(context.Background(), "hello", "en", "neural")
	if err != nil {
		t.Fatalf("Synthesize #1: %v", err)
	}
	res2, err := p.Synthesize(context.Background(), "hello", "en", "neural")
	if err != nil {
		t.Fatalf("Synthesize #2: %v", err)
	}
	if string(res1.Bytes) != string(res2.Bytes) {
		t.Fatalf("mock output not deterministic: %q vs %q", res1.Bytes, res2.Bytes)
	}
	if res1.Format != "ogg" {
		t.Fatalf("Format = %q, want ogg", res1.Format)
	}
	if p.Calls != 2 {
		t.Fatalf("Calls = %d, want 2", p.Calls)
	}
}
