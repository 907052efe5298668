package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the translation hub.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Identity provider (AWS Cognito).
	CognitoRegion       string
	CognitoUserPoolID   string
	CognitoClientID     string
	CognitoClientSecret string
	TokenRefreshSkew    time.Duration

	// Session lifecycle.
	SessionRetention        time.Duration
	AdminIdentityRetention  time.Duration
	SessionJanitorInterval  time.Duration
	MaxClientsPerSession    int
	MaxSessionsPerAdmin     int

	// Security middleware.
	RateLimitPerIPPerSecond   float64
	RateLimitPerIPBurst       int
	RateLimitPerOpPerSecond   float64
	RateLimitPerOpBurst       int
	IPBlockDuration           time.Duration
	IPBlockFailureThreshold   int

	// Audio cache.
	AudioCacheDir         string
	AudioCacheMaxBytes    int64
	AudioCacheMaxAge      time.Duration
	AudioCacheSweepPeriod time.Duration

	// TTS backend.
	TTSProvider   string
	TTSBaseURL    string
	TTSAPIKey     string
	TTSTimeout    time.Duration
	DefaultFormat string

	// Persistence roots.
	DataDir string

	// Optional Postgres-backed security audit sink; empty means log-only/in-memory.
	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("HUB_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("HUB_METRICS_NAMESPACE", "voicebridge"),
		AllowAnyOrigin:   false,

		CognitoRegion:       envOrDefault("COGNITO_REGION", "us-east-1"),
		CognitoUserPoolID:   stringsTrimSpace("COGNITO_USER_POOL_ID"),
		CognitoClientID:     stringsTrimSpace("COGNITO_CLIENT_ID"),
		CognitoClientSecret: stringsTrimSpace("COGNITO_CLIENT_SECRET"),
		TokenRefreshSkew:    time.Minute,

		SessionRetention:       10 * time.Minute,
		AdminIdentityRetention: 720 * time.Hour,
		SessionJanitorInterval: 30 * time.Second,
		MaxClientsPerSession:   500,
		MaxSessionsPerAdmin:    5,

		RateLimitPerIPPerSecond: 5,
		RateLimitPerIPBurst:     20,
		RateLimitPerOpPerSecond: 2,
		RateLimitPerOpBurst:     10,
		IPBlockDuration:         5 * time.Minute,
		IPBlockFailureThreshold: 10,

		AudioCacheDir:         envOrDefault("AUDIO_CACHE_DIR", "data/audio-cache"),
		AudioCacheMaxBytes:    1 << 30, // 1 GiB
		AudioCacheMaxAge:      6 * time.Hour,
		AudioCacheSweepPeriod: time.Minute,

		TTSProvider:   envOrDefault("TTS_PROVIDER", "mock"),
		TTSBaseURL:    envOrDefault("TTS_BASE_URL", ""),
		TTSAPIKey:     stringsTrimSpace("TTS_API_KEY"),
		TTSTimeout:    10 * time.Second,
		DefaultFormat: envOrDefault("TTS_DEFAULT_FORMAT", "mp3"),

		DataDir:     envOrDefault("HUB_DATA_DIR", "data"),
		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("HUB_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenRefreshSkew, err = durationFromEnv("COGNITO_TOKEN_REFRESH_SKEW", cfg.TokenRefreshSkew)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AdminIdentityRetention, err = durationFromEnv("ADMIN_IDENTITY_RETENTION", cfg.AdminIdentityRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionJanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxClientsPerSession, err = intFromEnv("MAX_CLIENTS_PER_SESSION", cfg.MaxClientsPerSession)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSessionsPerAdmin, err = intFromEnv("MAX_SESSIONS_PER_ADMIN", cfg.MaxSessionsPerAdmin)
	if err != nil {
		return Config{}, err
	}
	cfg.IPBlockDuration, err = durationFromEnv("IP_BLOCK_DURATION", cfg.IPBlockDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.IPBlockFailureThreshold, err = intFromEnv("IP_BLOCK_FAILURE_THRESHOLD", cfg.IPBlockFailureThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioCacheMaxAge, err = durationFromEnv("AUDIO_CACHE_MAX_AGE", cfg.AudioCacheMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioCacheSweepPeriod, err = durationFromEnv("AUDIO_CACHE_SWEEP_PERIOD", cfg.AudioCacheSweepPeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSTimeout, err = durationFromEnv("TTS_TIMEOUT", cfg.TTSTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("HUB_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionJanitorInterval < time.Second {
		return Config{}, fmt.Errorf("SESSION_JANITOR_INTERVAL must be at least 1s")
	}
	if cfg.MaxClientsPerSession <= 0 {
		return Config{}, fmt.Errorf("MAX_CLIENTS_PER_SESSION must be positive")
	}
	if cfg.MaxSessionsPerAdmin <= 0 {
		return Config{}, fmt.Errorf("MAX_SESSIONS_PER_ADMIN must be positive")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("TTS_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
