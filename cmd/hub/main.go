package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voicebridge/hub/internal/adminidentity"
	"github.com/voicebridge/hub/internal/audit"
	"github.com/voicebridge/hub/internal/audiocache"
	"github.com/voicebridge/hub/internal/broadcast"
	"github.com/voicebridge/hub/internal/config"
	"github.com/voicebridge/hub/internal/herror"
	"github.com/voicebridge/hub/internal/httpapi"
	"github.com/voicebridge/hub/internal/identity"
	"github.com/voicebridge/hub/internal/observability"
	"github.com/voicebridge/hub/internal/protocol"
	"github.com/voicebridge/hub/internal/router"
	"github.com/voicebridge/hub/internal/security"
	"github.com/voicebridge/hub/internal/session"
	"github.com/voicebridge/hub/internal/supervisor"
	"github.com/voicebridge/hub/internal/tts"
)

func buildLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	log := buildLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config error", zap.Error(err))
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	auditSink, err := audit.NewSink(ctx, cfg.DatabaseURL, 256)
	if err != nil {
		log.Fatal("audit sink init failed", zap.Error(err))
	}
	defer auditSink.Close()

	errs := herror.NewManager(log, auditSink)

	idClient, err := buildIdentityClient(ctx, cfg, log)
	if err != nil {
		log.Fatal("identity client init failed", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("data dir init failed", zap.Error(err))
	}
	sessionDataDir := cfg.DataDir + "/sessions"
	adminDataDir := cfg.DataDir + "/admins"
	if err := os.MkdirAll(sessionDataDir, 0o755); err != nil {
		log.Fatal("session data dir init failed", zap.Error(err))
	}
	if err := os.MkdirAll(adminDataDir, 0o755); err != nil {
		log.Fatal("admin data dir init failed", zap.Error(err))
	}

	sessions, err := session.NewManager(sessionDataDir, cfg.MaxClientsPerSession)
	if err != nil {
		log.Fatal("session manager init failed", zap.Error(err))
	}
	admins, err := adminidentity.NewManager(adminDataDir)
	if err != nil {
		log.Fatal("admin identity manager init failed", zap.Error(err))
	}

	tokens := identity.NewTokenStore()

	var sup *supervisor.Supervisor
	notify := sendAdapter{func(socketID string, v any) error {
		return sup.Send(socketID, v)
	}}

	sessions.SetHooks(
		func(s *session.Session) {
			metrics.ObserveSessionEvent("paused")
			for socketID := range s.Clients {
				_ = notify.Send(socketID, protocol.SessionStatusUpdate{
					Type:      protocol.TypeSessionStatusUpdate,
					SessionID: s.SessionID,
					Status:    string(s.Status),
				})
			}
		},
		func(s *session.Session) {
			metrics.ObserveSessionEvent("ended")
			metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		},
		func(sessionID string) {
			metrics.ObserveSessionEvent("purged")
		},
	)

	tokens.SetExpireHook(func(socketID, adminID string) {
		log.Info("auth session expired", zap.String("socketId", socketID), zap.String("adminId", adminID))
		_ = notify.Send(socketID, protocol.SessionExpired{Type: protocol.TypeSessionExpired})
	})

	sec := security.New(security.Config{
		PerIPPerSecond: cfg.RateLimitPerIPPerSecond,
		PerIPBurst:     cfg.RateLimitPerIPBurst,
		PerOpPerSecond: cfg.RateLimitPerOpPerSecond,
		PerOpBurst:     cfg.RateLimitPerOpBurst,
		BlockDuration:  cfg.IPBlockDuration,
		BlockThreshold: cfg.IPBlockFailureThreshold,
	})

	cache, err := audiocache.New(cfg.AudioCacheDir, cfg.AudioCacheMaxBytes, cfg.AudioCacheMaxAge)
	if err != nil {
		log.Fatal("audio cache init failed", zap.Error(err))
	}

	ttsProvider := buildTTSProvider(cfg)

	resolveAudio := func(artifactID string) string {
		return httpapi.AudioURL(artifactID, cfg.DefaultFormat)
	}
	broadcaster := broadcast.New(sessions, cache, ttsProvider, notify, resolveAudio, metrics)

	r := router.New(tokens, admins, sessions, idClient, sec, errs, broadcaster, metrics, notify)
	sup = supervisor.New(r, sessions, tokens, admins, sec, metrics, log, cfg.AllowAnyOrigin)

	api := httpapi.New(cfg, sessions, admins, tokens, cache, metrics, sup)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.SessionJanitorInterval, cfg.SessionRetention)
	tokens.StartJanitor(runCtx, cfg.SessionJanitorInterval)
	cache.StartJanitor(runCtx, cfg.AudioCacheSweepPeriod)
	go adminIdentitySweepLoop(runCtx, admins, cfg.SessionJanitorInterval, cfg.AdminIdentityRetention)
	go securityReapLoop(runCtx, sec, cfg.SessionJanitorInterval)

	go func() {
		log.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	log.Info("shutdown complete")
}

// sendAdapter lets a closure satisfy broadcast.Sender without an import
// cycle between the broadcaster and the Connection Supervisor.
type sendAdapter struct {
	fn func(socketID string, v any) error
}

func (s sendAdapter) Send(socketID string, v any) error { return s.fn(socketID, v) }

func buildIdentityClient(ctx context.Context, cfg config.Config, log *zap.Logger) (identity.Client, error) {
	if cfg.CognitoUserPoolID == "" || cfg.CognitoClientID == "" {
		log.Warn("COGNITO_USER_POOL_ID/COGNITO_CLIENT_ID not set; using mock identity client")
		return identity.NewMockClient(), nil
	}
	return identity.NewCognitoClient(ctx, cfg.CognitoRegion, cfg.CognitoClientID, cfg.CognitoClientSecret)
}

func buildTTSProvider(cfg config.Config) tts.Provider {
	if cfg.TTSProvider == "mock" || cfg.TTSBaseURL == "" {
		return &tts.MockProvider{Format: cfg.DefaultFormat}
	}
	return tts.NewHTTPProvider(cfg.TTSBaseURL, cfg.TTSAPIKey, cfg.DefaultFormat, cfg.TTSTimeout)
}

func adminIdentitySweepLoop(ctx context.Context, admins *adminidentity.Manager, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			admins.Sweep(retention)
		}
	}
}

func securityReapLoop(ctx context.Context, sec *security.Middleware, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sec.ReapIdle()
		}
	}
}
