package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicebridge/hub/internal/adminidentity"
	"github.com/voicebridge/hub/internal/audit"
	"github.com/voicebridge/hub/internal/broadcast"
	"github.com/voicebridge/hub/internal/herror"
	"github.com/voicebridge/hub/internal/identity"
	"github.com/voicebridge/hub/internal/protocol"
	"github.com/voicebridge/hub/internal/security"
	"github.com/voicebridge/hub/internal/session"
)

type fakeSender struct {
	received map[string]any
}

func (f *fakeSender) Send(socketID string, v any) error {
	f.received[socketID] = v
	return nil
}

type testHarness struct {
	r        *Router
	tokens   *identity.TokenStore
	sessions *session.Manager
	admins   *adminidentity.Manager
	idc      *identity.MockClient
	sec      *security.Middleware
	sender   *fakeSender
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	sessions, err := session.NewManager(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	admins, err := adminidentity.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("adminidentity.NewManager: %v", err)
	}
	tokens := identity.NewTokenStore()
	idc := identity.NewMockClient()
	idc.Seed("ada@example.com", "secret", "Ada")
	sec := security.New(security.Config{
		PerIPPerSecond: 100, PerIPBurst: 100,
		PerOpPerSecond: 100, PerOpBurst: 100,
		BlockDuration: time.Minute, BlockThreshold: 100,
	})
	errs := herror.NewManager(zap.NewNop(), audit.NewInMemorySink(10))
	sender := &fakeSender{received: make(map[string]any)}
	broadcaster := broadcast.New(sessions, nil, nil, sender, nil, nil)

	r := New(tokens, admins, sessions, idc, sec, errs, broadcaster, nil, sender)
	return &testHarness{r: r, tokens: tokens, sessions: sessions, admins: admins, idc: idc, sec: sec, sender: sender}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func authenticatedAdmin(t *testing.T, h *testHarness, socketID string) string {
	t.Helper()
	out := h.r.Dispatch(context.Background(), RequestContext{SocketID: socketID, RemoteAddr: "1.1.1.1"}, mustJSON(t, map[string]any{
		"type": "admin-auth", "method": "credentials", "username": "ada@example.com", "password": "secret",
	}))
	if len(out) == 0 {
		t.Fatalf("expected admin-auth response")
	}
	if env, ok := out[0].(herror.Envelope); ok {
		t.Fatalf("admin-auth failed: %+v", env)
	}
	adminID, ok := h.tokens.AdminIDFor(socketID)
	if !ok {
		t.Fatalf("socket not authenticated after admin-auth")
	}
	return adminID
}

func TestDispatchRejectsInvalidJSON(t *testing.T) {
	h := newHarness(t)
	out := h.r.Dispatch(context.Background(), RequestContext{SocketID: "s1"}, []byte("not json"))
	if len(out) != 1 {
		t.Fatalf("expected one envelope, got %d", len(out))
	}
	env, ok := out[0].(herror.Envelope)
	if !ok || env.ErrorCode != herror.CodeValidationInvalidInput {
		t.Fatalf("unexpected result: %+v", out[0])
	}
}

func TestDispatchAdminMessageRequiresAuth(t *testing.T) {
	h := newHarness(t)
	out := h.r.Dispatch(context.Background(), RequestContext{SocketID: "unauth-sock"}, mustJSON(t, map[string]any{
		"type": "start-session", "sessionId": "s1",
		"config": map[string]any{"sourceLanguage": "en", "targetLanguages": []string{"es"}, "enabledLanguages": []string{"es"}, "ttsMode": "neural", "audioQuality": "high", "audioConfig": map[string]any{"sampleRate": 16000, "encoding": "pcm", "channels": 1}},
	}))
	env, ok := out[0].(herror.Envelope)
	if !ok || env.ErrorCode != herror.CodeTokenExpired {
		t.Fatalf("unexpected result: %+v", out[0])
	}
}

func TestDispatchAdminAuthWithBadCredentialsRecordsFailure(t *testing.T) {
	h := newHarness(t)
	out := h.r.Dispatch(context.Background(), RequestContext{SocketID: "s1", RemoteAddr: "2.2.2.2"}, mustJSON(t, map[string]any{
		"type": "admin-auth", "method": "credentials", "username": "ada@example.com", "password": "wrong",
	}))
	env, ok := out[0].(herror.Envelope)
	if !ok || env.ErrorCode != herror.CodeInvalidCredentials {
		t.Fatalf("unexpected result: %+v", out[0])
	}
	if blocked, _ := h.sec.IsBlocked("2.2.2.2"); blocked {
		t.Fatalf("should not be blocked after a single failure")
	}
}

func TestDispatchStartEndSessionOwnershipFlow(t *testing.T) {
	h := newHarness(t)
	authenticatedAdmin(t, h, "admin-sock")

	startOut := h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{
		"type": "start-session", "sessionId": "s1",
		"config": map[string]any{"sourceLanguage": "en", "targetLanguages": []string{"es"}, "enabledLanguages": []string{"es"}, "ttsMode": "neural", "audioQuality": "high", "audioConfig": map[string]any{"sampleRate": 16000, "encoding": "pcm", "channels": 1}},
	}))
	if _, ok := startOut[0].(herror.Envelope); ok {
		t.Fatalf("start-session failed: %+v", startOut[0])
	}

	// a different admin, who does not own the session, cannot end it
	h.idc.Seed("bob@example.com", "secret", "Bob")
	h.r.Dispatch(context.Background(), RequestContext{SocketID: "other-admin-sock", RemoteAddr: "1.1.1.1"}, mustJSON(t, map[string]any{
		"type": "admin-auth", "method": "credentials", "username": "bob@example.com", "password": "secret",
	}))
	if _, ok := h.tokens.AdminIDFor("other-admin-sock"); !ok {
		t.Fatalf("second admin not authenticated")
	}
	endOut := h.r.Dispatch(context.Background(), RequestContext{SocketID: "other-admin-sock"}, mustJSON(t, map[string]any{
		"type": "end-session", "sessionId": "s1",
	}))
	env, ok := endOut[0].(herror.Envelope)
	if !ok || env.ErrorCode != herror.CodeSessionNotOwned {
		t.Fatalf("expected not-owned error, got %+v", endOut[0])
	}

	endOut = h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{
		"type": "end-session", "sessionId": "s1",
	}))
	if _, ok := endOut[0].(herror.Envelope); ok {
		t.Fatalf("owner's end-session failed: %+v", endOut[0])
	}
}

func TestDispatchJoinAndBroadcastTranslation(t *testing.T) {
	h := newHarness(t)
	authenticatedAdmin(t, h, "admin-sock")
	h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{
		"type": "start-session", "sessionId": "s1",
		"config": map[string]any{"sourceLanguage": "en", "targetLanguages": []string{"es"}, "enabledLanguages": []string{"es"}, "ttsMode": "neural", "audioQuality": "high", "audioConfig": map[string]any{"sampleRate": 16000, "encoding": "pcm", "channels": 1}},
	}))

	joinOut := h.r.Dispatch(context.Background(), RequestContext{SocketID: "client-sock"}, mustJSON(t, map[string]any{
		"type": "join-session", "sessionId": "s1", "preferredLanguage": "es",
	}))
	if _, ok := joinOut[0].(herror.Envelope); ok {
		t.Fatalf("join-session failed: %+v", joinOut[0])
	}

	bOut := h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{
		"type": "broadcast-translation", "sessionId": "s1", "original": "hello",
		"translations": map[string]string{"es": "hola"},
	}))
	if len(bOut) != 0 {
		t.Fatalf("expected no response frames on success, got %+v", bOut)
	}
	if _, ok := h.sender.received["client-sock"]; !ok {
		t.Fatalf("client did not receive translation")
	}
}

func TestDispatchEndSessionNotifiesJoinedClients(t *testing.T) {
	h := newHarness(t)
	authenticatedAdmin(t, h, "admin-sock")
	h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{
		"type": "start-session", "sessionId": "s1",
		"config": map[string]any{"sourceLanguage": "en", "targetLanguages": []string{"es"}, "enabledLanguages": []string{"es"}, "ttsMode": "neural", "audioQuality": "high", "audioConfig": map[string]any{"sampleRate": 16000, "encoding": "pcm", "channels": 1}},
	}))
	h.r.Dispatch(context.Background(), RequestContext{SocketID: "client-sock"}, mustJSON(t, map[string]any{
		"type": "join-session", "sessionId": "s1", "preferredLanguage": "es",
	}))

	h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{
		"type": "end-session", "sessionId": "s1",
	}))

	msg, ok := h.sender.received["client-sock"]
	if !ok {
		t.Fatalf("client was not notified of session end")
	}
	if _, ok := msg.(protocol.SessionEnded); !ok {
		t.Fatalf("client received %+v, want protocol.SessionEnded", msg)
	}
}

func TestDispatchReconnectReattachesOwnedSessionsToNewSocket(t *testing.T) {
	h := newHarness(t)
	authenticatedAdmin(t, h, "admin-sock-1")
	h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock-1"}, mustJSON(t, map[string]any{
		"type": "start-session", "sessionId": "s1",
		"config": map[string]any{"sourceLanguage": "en", "targetLanguages": []string{"es"}, "enabledLanguages": []string{"es"}, "ttsMode": "neural", "audioQuality": "high", "audioConfig": map[string]any{"sampleRate": 16000, "encoding": "pcm", "channels": 1}},
	}))
	h.r.Dispatch(context.Background(), RequestContext{SocketID: "client-sock"}, mustJSON(t, map[string]any{
		"type": "join-session", "sessionId": "s1", "preferredLanguage": "es",
	}))

	h.sessions.DetachAdminSocket("admin-sock-1")
	sessBefore, err := h.sessions.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sessBefore.CurrentAdminSocketID != "" {
		t.Fatalf("CurrentAdminSocketID = %q, want cleared after detach", sessBefore.CurrentAdminSocketID)
	}

	out := h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock-2"}, mustJSON(t, map[string]any{
		"type": "admin-auth", "method": "credentials", "username": "ada@example.com", "password": "secret",
	}))
	resp, ok := out[0].(protocol.AdminAuthResponse)
	if !ok {
		t.Fatalf("unexpected response: %+v", out[0])
	}
	if len(resp.OwnedSessionID) != 1 || resp.OwnedSessionID[0] != "s1" {
		t.Fatalf("ownedSessions = %v, want [s1]", resp.OwnedSessionID)
	}
	if len(resp.AllSessionID) != 1 || resp.AllSessionID[0] != "s1" {
		t.Fatalf("allSessions = %v, want [s1]", resp.AllSessionID)
	}

	sessAfter, err := h.sessions.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sessAfter.CurrentAdminSocketID != "admin-sock-2" {
		t.Fatalf("CurrentAdminSocketID = %q, want admin-sock-2", sessAfter.CurrentAdminSocketID)
	}
}

func TestDispatchRateLimitIsKeyedByAdminIDAcrossSockets(t *testing.T) {
	h := newHarness(t)
	h.sec = security.New(security.Config{
		PerIPPerSecond: 100, PerIPBurst: 100,
		PerOpPerSecond: 1, PerOpBurst: 1,
		BlockDuration: time.Minute, BlockThreshold: 100,
	})
	admins, _ := adminidentity.NewManager(t.TempDir())
	sessions, _ := session.NewManager(t.TempDir(), 10)
	tokens := identity.NewTokenStore()
	idc := identity.NewMockClient()
	idc.Seed("ada@example.com", "secret", "Ada")
	errs := herror.NewManager(zap.NewNop(), audit.NewInMemorySink(10))
	sender := &fakeSender{received: make(map[string]any)}
	broadcaster := broadcast.New(sessions, nil, nil, sender, nil, nil)
	h.r = New(tokens, admins, sessions, idc, h.sec, errs, broadcaster, nil, sender)
	h.tokens = tokens

	authenticatedAdmin(t, h, "admin-sock-1")
	// Re-authenticate the same admin on a second socket; the two sockets
	// must share one token bucket since both resolve to the same adminId.
	out := h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock-2"}, mustJSON(t, map[string]any{
		"type": "admin-auth", "method": "credentials", "username": "ada@example.com", "password": "secret",
	}))
	if _, ok := out[0].(herror.Envelope); ok {
		t.Fatalf("second admin-auth failed: %+v", out[0])
	}

	h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock-1"}, mustJSON(t, map[string]any{"type": "list-sessions"}))
	out = h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock-2"}, mustJSON(t, map[string]any{"type": "list-sessions"}))
	env, ok := out[0].(herror.Envelope)
	if !ok || env.ErrorCode != herror.CodeSystemRateLimited {
		t.Fatalf("expected rate-limit error on second socket's call, got %+v", out[0])
	}
}

func TestDispatchEnforcesPerOperationRateLimit(t *testing.T) {
	h := newHarness(t)
	h.sec = security.New(security.Config{
		PerIPPerSecond: 100, PerIPBurst: 100,
		PerOpPerSecond: 1, PerOpBurst: 1,
		BlockDuration: time.Minute, BlockThreshold: 100,
	})
	admins, _ := adminidentity.NewManager(t.TempDir())
	sessions, _ := session.NewManager(t.TempDir(), 10)
	tokens := identity.NewTokenStore()
	idc := identity.NewMockClient()
	idc.Seed("ada@example.com", "secret", "Ada")
	errs := herror.NewManager(zap.NewNop(), audit.NewInMemorySink(10))
	sender := &fakeSender{received: make(map[string]any)}
	broadcaster := broadcast.New(sessions, nil, nil, sender, nil, nil)
	h.r = New(tokens, admins, sessions, idc, h.sec, errs, broadcaster, nil, sender)
	h.tokens = tokens

	authenticatedAdmin(t, h, "admin-sock")
	listSessions := func() []any {
		return h.r.Dispatch(context.Background(), RequestContext{SocketID: "admin-sock"}, mustJSON(t, map[string]any{"type": "list-sessions"}))
	}
	listSessions()
	out := listSessions()
	env, ok := out[0].(herror.Envelope)
	if !ok || env.ErrorCode != herror.CodeSystemRateLimited {
		t.Fatalf("expected rate-limit error on second immediate call, got %+v", out[0])
	}
}
