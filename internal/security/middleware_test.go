package security

import (
	"testing"
	"time"
)

func TestAllowConnectionRespectsBurstThenLimits(t *testing.T) {
	m := New(Config{
		PerIPPerSecond: 1,
		PerIPBurst:     2,
		PerOpPerSecond: 1,
		PerOpBurst:     2,
		BlockDuration:  time.Minute,
		BlockThreshold: 3,
	})

	ok1, _ := m.AllowConnection("1.2.3.4")
	ok2, _ := m.AllowConnection("1.2.3.4")
	if !ok1 || !ok2 {
		t.Fatalf("expected first two connections within burst to be allowed")
	}
	if ok3, _ := m.AllowConnection("1.2.3.4"); ok3 {
		t.Fatalf("expected third immediate connection to be rate limited")
	}
}

func TestAllowOperationIsPerAdminAndOperation(t *testing.T) {
	m := New(Config{PerOpPerSecond: 1, PerOpBurst: 1, PerIPPerSecond: 100, PerIPBurst: 100, BlockDuration: time.Minute, BlockThreshold: 5})

	if ok, _ := m.AllowOperation("admin-1", "start-session"); !ok {
		t.Fatalf("first operation call should be allowed")
	}
	if ok, _ := m.AllowOperation("admin-1", "start-session"); ok {
		t.Fatalf("second immediate call to same op should be limited")
	}
	if ok, _ := m.AllowOperation("admin-1", "end-session"); !ok {
		t.Fatalf("a different operation should have its own bucket")
	}
	if ok, _ := m.AllowOperation("admin-2", "start-session"); !ok {
		t.Fatalf("a different admin should have its own bucket")
	}
}

func TestRecordAuthFailureBlocksAfterThreshold(t *testing.T) {
	m := New(Config{BlockDuration: time.Minute, BlockThreshold: 3, PerIPPerSecond: 100, PerIPBurst: 100, PerOpPerSecond: 100, PerOpBurst: 100})

	for i := 0; i < 2; i++ {
		m.RecordAuthFailure("9.9.9.9")
		if blocked, _ := m.IsBlocked("9.9.9.9"); blocked {
			t.Fatalf("should not be blocked before threshold (failure %d)", i+1)
		}
	}
	m.RecordAuthFailure("9.9.9.9")
	blocked, retryAfter := m.IsBlocked("9.9.9.9")
	if !blocked {
		t.Fatalf("expected block after reaching threshold")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want positive", retryAfter)
	}
}

func TestRecordAuthSuccessClearsFailures(t *testing.T) {
	m := New(Config{BlockDuration: time.Minute, BlockThreshold: 2, PerIPPerSecond: 100, PerIPBurst: 100, PerOpPerSecond: 100, PerOpBurst: 100})

	m.RecordAuthFailure("1.1.1.1")
	m.RecordAuthSuccess("1.1.1.1")
	m.RecordAuthFailure("1.1.1.1")
	if blocked, _ := m.IsBlocked("1.1.1.1"); blocked {
		t.Fatalf("failures should have reset after a success")
	}
}

func TestIsBlockedExpiresAfterDuration(t *testing.T) {
	m := New(Config{BlockDuration: 10 * time.Millisecond, BlockThreshold: 1, PerIPPerSecond: 100, PerIPBurst: 100, PerOpPerSecond: 100, PerOpBurst: 100})
	m.RecordAuthFailure("5.5.5.5")
	if blocked, _ := m.IsBlocked("5.5.5.5"); !blocked {
		t.Fatalf("expected immediate block")
	}
	time.Sleep(20 * time.Millisecond)
	if blocked, _ := m.IsBlocked("5.5.5.5"); blocked {
		t.Fatalf("expected block to have expired")
	}
}

func TestReapIdleDropsStaleLimitersAndExpiredBlocks(t *testing.T) {
	m := New(Config{
		PerIPPerSecond: 1, PerIPBurst: 1, PerOpPerSecond: 1, PerOpBurst: 1,
		BlockDuration: time.Millisecond, BlockThreshold: 1, LimiterIdleReap: time.Millisecond,
	})
	m.AllowConnection("2.2.2.2")
	m.RecordAuthFailure("3.3.3.3")

	time.Sleep(5 * time.Millisecond)
	m.ReapIdle()

	m.mu.Lock()
	_, ipPresent := m.perIP["2.2.2.2"]
	_, blockedPresent := m.blocked["3.3.3.3"]
	m.mu.Unlock()
	if ipPresent {
		t.Fatalf("expected idle per-IP limiter to be reaped")
	}
	if blockedPresent {
		t.Fatalf("expected expired block to be reaped")
	}
}
