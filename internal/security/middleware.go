// Package security implements the Security Middleware: per-IP
// connection/operation rate limiting and IP blocking on repeated
// authentication failures.
package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the token-bucket sizes and block policy.
type Config struct {
	PerIPPerSecond   float64
	PerIPBurst       int
	PerOpPerSecond   float64
	PerOpBurst       int
	BlockDuration    time.Duration
	BlockThreshold   int
	LimiterIdleReap  time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Middleware tracks one rate.Limiter per IP and one per (adminId,
// operation) pair, plus a temporary IP block list built from repeated
// failures.
type Middleware struct {
	cfg Config

	mu        sync.Mutex
	perIP     map[string]*limiterEntry
	perOp     map[string]*limiterEntry
	blocked   map[string]time.Time
	failures  map[string]int
}

// New builds a Middleware from cfg.
func New(cfg Config) *Middleware {
	if cfg.LimiterIdleReap <= 0 {
		cfg.LimiterIdleReap = 10 * time.Minute
	}
	return &Middleware{
		cfg:      cfg,
		perIP:    make(map[string]*limiterEntry),
		perOp:    make(map[string]*limiterEntry),
		blocked:  make(map[string]time.Time),
		failures: make(map[string]int),
	}
}

// IsBlocked reports whether remoteAddr is currently blocked, and for how
// much longer.
func (m *Middleware) IsBlocked(remoteAddr string) (blocked bool, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.blocked[remoteAddr]
	if !ok {
		return false, 0
	}
	if time.Now().After(until) {
		delete(m.blocked, remoteAddr)
		return false, 0
	}
	return true, time.Until(until)
}

// AllowConnection applies the per-IP connection-rate bucket.
func (m *Middleware) AllowConnection(remoteAddr string) (bool, time.Duration) {
	return m.allow(m.perIP, remoteAddr, m.cfg.PerIPPerSecond, m.cfg.PerIPBurst)
}

// AllowOperation applies the per-(adminId, operation) token bucket.
func (m *Middleware) AllowOperation(adminID, operation string) (bool, time.Duration) {
	key := adminID + "|" + operation
	return m.allow(m.perOp, key, m.cfg.PerOpPerSecond, m.cfg.PerOpBurst)
}

func (m *Middleware) allow(bucket map[string]*limiterEntry, key string, perSecond float64, burst int) (bool, time.Duration) {
	m.mu.Lock()
	e, ok := bucket[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		bucket[key] = e
	}
	e.lastUsed = time.Now()
	limiter := e.limiter
	m.mu.Unlock()

	res := limiter.Reserve()
	if !res.OK() {
		return false, time.Second
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// RecordAuthFailure increments remoteAddr's failure count and blocks it
// once the threshold is reached.
func (m *Middleware) RecordAuthFailure(remoteAddr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[remoteAddr]++
	if m.failures[remoteAddr] >= m.cfg.BlockThreshold {
		m.blocked[remoteAddr] = time.Now().Add(m.cfg.BlockDuration)
		m.failures[remoteAddr] = 0
	}
}

// RecordAuthSuccess clears remoteAddr's failure count.
func (m *Middleware) RecordAuthSuccess(remoteAddr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, remoteAddr)
}

// ReapIdle drops limiter entries untouched for longer than the
// configured idle window, bounding memory for long-running processes
// that see many distinct IPs/admins over time.
func (m *Middleware) ReapIdle() {
	cutoff := time.Now().Add(-m.cfg.LimiterIdleReap)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.perIP {
		if e.lastUsed.Before(cutoff) {
			delete(m.perIP, k)
		}
	}
	for k, e := range m.perOp {
		if e.lastUsed.Before(cutoff) {
			delete(m.perOp, k)
		}
	}
	for addr, until := range m.blocked {
		if time.Now().After(until) {
			delete(m.blocked, addr)
		}
	}
}
