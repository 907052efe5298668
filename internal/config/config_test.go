package config

import (
	"testing"
	"time"
)

func clearHubEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HUB_BIND_ADDR", "HUB_METRICS_NAMESPACE", "HUB_SHUTDOWN_TIMEOUT", "HUB_ALLOW_ANY_ORIGIN",
		"COGNITO_REGION", "COGNITO_USER_POOL_ID", "COGNITO_CLIENT_ID", "COGNITO_CLIENT_SECRET", "COGNITO_TOKEN_REFRESH_SKEW",
		"SESSION_RETENTION", "ADMIN_IDENTITY_RETENTION", "SESSION_JANITOR_INTERVAL",
		"MAX_CLIENTS_PER_SESSION", "MAX_SESSIONS_PER_ADMIN",
		"IP_BLOCK_DURATION", "IP_BLOCK_FAILURE_THRESHOLD",
		"AUDIO_CACHE_DIR", "AUDIO_CACHE_MAX_AGE", "AUDIO_CACHE_SWEEP_PERIOD",
		"TTS_PROVIDER", "TTS_BASE_URL", "TTS_API_KEY", "TTS_TIMEOUT", "TTS_DEFAULT_FORMAT",
		"HUB_DATA_DIR", "DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearHubEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.TTSProvider != "mock" {
		t.Fatalf("TTSProvider = %q, want mock", cfg.TTSProvider)
	}
	if cfg.SessionRetention != 10*time.Minute {
		t.Fatalf("SessionRetention = %v, want 10m", cfg.SessionRetention)
	}
	if cfg.MaxClientsPerSession != 500 {
		t.Fatalf("MaxClientsPerSession = %d, want 500", cfg.MaxClientsPerSession)
	}
	if cfg.CognitoUserPoolID != "" {
		t.Fatalf("CognitoUserPoolID = %q, want empty default", cfg.CognitoUserPoolID)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearHubEnv(t)
	t.Setenv("HUB_BIND_ADDR", ":9090")
	t.Setenv("TTS_PROVIDER", "http")
	t.Setenv("SESSION_RETENTION", "1h")
	t.Setenv("MAX_CLIENTS_PER_SESSION", "50")
	t.Setenv("COGNITO_USER_POOL_ID", "pool-123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.TTSProvider != "http" {
		t.Fatalf("TTSProvider = %q, want http", cfg.TTSProvider)
	}
	if cfg.SessionRetention != time.Hour {
		t.Fatalf("SessionRetention = %v, want 1h", cfg.SessionRetention)
	}
	if cfg.MaxClientsPerSession != 50 {
		t.Fatalf("MaxClientsPerSession = %d, want 50", cfg.MaxClientsPerSession)
	}
	if cfg.CognitoUserPoolID != "pool-123" {
		t.Fatalf("CognitoUserPoolID = %q, want pool-123", cfg.CognitoUserPoolID)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearHubEnv(t)
	t.Setenv("SESSION_RETENTION", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid SESSION_RETENTION")
	}
}

func TestLoadRejectsNonPositiveClientLimit(t *testing.T) {
	clearHubEnv(t)
	t.Setenv("MAX_CLIENTS_PER_SESSION", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-positive MAX_CLIENTS_PER_SESSION")
	}
}

func TestLoadRejectsJanitorIntervalBelowOneSecond(t *testing.T) {
	clearHubEnv(t)
	t.Setenv("SESSION_JANITOR_INTERVAL", "100ms")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for sub-second SESSION_JANITOR_INTERVAL")
	}
}

func TestLoadParsesBoolVariants(t *testing.T) {
	clearHubEnv(t)
	t.Setenv("HUB_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}
