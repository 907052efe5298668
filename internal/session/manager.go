package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/hub/internal/persistence"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrAlreadyExists      = errors.New("session already exists")
	ErrNotOwner           = errors.New("requester does not own this session")
	ErrTerminal           = errors.New("session is in a terminal state")
	ErrClientLimitReached = errors.New("session has reached its client limit")
	ErrInvalidConfig      = errors.New("invalid session config")
)

// AdminDetachGrace is how long a session waits with no attached admin
// socket before transitioning active -> paused.
const AdminDetachGrace = 10 * time.Second

// Manager is the authoritative registry of Sessions.
type Manager struct {
	mu                   sync.RWMutex
	sessions             map[string]*Session
	dataDir              string
	maxClientsPerSession int

	onPaused func(*Session)
	onEnded  func(*Session)
	onPurged func(sessionID string)
}

// NewManager loads persisted sessions from dataDir, skipping any that
// fail to parse, and returns a ready Manager. Terminal sessions are
// loaded like any other; ended ones are removed later by the janitor's
// retention sweep.
func NewManager(dataDir string, maxClientsPerSession int) (*Manager, error) {
	records, err := persistence.ReadAll[Session](dataDir)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	m := &Manager{
		sessions:             make(map[string]*Session, len(records)),
		dataDir:              dataDir,
		maxClientsPerSession: maxClientsPerSession,
	}
	for i := range records {
		rec := records[i]
		if rec.Clients == nil {
			rec.Clients = make(map[string]ClientMembership)
		}
		m.sessions[rec.SessionID] = &rec
	}
	return m, nil
}

// SetHooks registers callbacks invoked (outside any lock) when a session
// pauses, ends, or is purged from memory after retention.
func (m *Manager) SetHooks(onPaused, onEnded func(*Session), onPurged func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPaused, m.onEnded, m.onPurged = onPaused, onEnded, onPurged
}

// CreateSession creates a new, non-terminal session owned by adminID.
func (m *Manager) CreateSession(sessionID string, cfg Config, adminID, adminSocketID, createdBy string) (*Session, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[sessionID]; ok && !isTerminal(existing.Status) {
		return nil, ErrAlreadyExists
	}

	now := time.Now().UTC()
	s := &Session{
		SessionID:            sessionID,
		AdminID:              adminID,
		CurrentAdminSocketID: adminSocketID,
		CreatedBy:             createdBy,
		Config:                cfg,
		Clients:               make(map[string]ClientMembership),
		CreatedAt:             now,
		LastActivity:          now,
		Status:                StatusStarted,
	}
	m.sessions[sessionID] = s
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

// EndSession transitions sessionID to ended; only the owner may call this.
func (m *Manager) EndSession(sessionID, requesterAdminID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.AdminID != requesterAdminID {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	if isTerminal(s.Status) {
		m.mu.Unlock()
		return nil, ErrTerminal
	}
	s.Status = StatusEnding
	s.LastActivity = time.Now().UTC()
	if err := m.persistLocked(s); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	s.Status = StatusEnded
	for k := range s.Clients {
		delete(s.Clients, k)
	}
	if err := m.persistLocked(s); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	snap := clone(s)
	hook := m.onEnded
	m.mu.Unlock()

	if hook != nil {
		hook(snap)
	}
	return snap, nil
}

// UpdateConfig merges partial into sessionID's config; only the owner
// may call this. Zero-valued fields in partial are left unchanged,
// except AudioConfig which replaces wholesale when its SampleRate is set.
func (m *Manager) UpdateConfig(sessionID string, partial Config, requesterAdminID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.AdminID != requesterAdminID {
		return nil, ErrNotOwner
	}
	if isTerminal(s.Status) {
		return nil, ErrTerminal
	}

	merged := s.Config
	if partial.SourceLanguage != "" {
		merged.SourceLanguage = partial.SourceLanguage
	}
	if len(partial.TargetLanguages) > 0 {
		merged.TargetLanguages = partial.TargetLanguages
	}
	if len(partial.EnabledLanguages) > 0 {
		merged.EnabledLanguages = partial.EnabledLanguages
	}
	if partial.TTSMode != "" {
		merged.TTSMode = partial.TTSMode
	}
	if partial.AudioQuality != "" {
		merged.AudioQuality = partial.AudioQuality
	}
	if partial.AudioConfig.SampleRate != 0 {
		merged.AudioConfig = partial.AudioConfig
	}
	if err := validateConfig(merged); err != nil {
		return nil, err
	}

	s.Config = merged
	s.LastActivity = time.Now().UTC()
	if s.Status == StatusStarted {
		s.Status = StatusActive
	}
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

// JoinClient attaches a Client socket to sessionID.
func (m *Manager) JoinClient(sessionID, socketID, preferredLanguage string, caps AudioCapabilities) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if isTerminal(s.Status) {
		return nil, ErrTerminal
	}
	if len(s.Clients) >= m.maxClientsPerSession {
		return nil, ErrClientLimitReached
	}

	now := time.Now().UTC()
	s.Clients[socketID] = ClientMembership{
		SocketID:          socketID,
		PreferredLanguage: preferredLanguage,
		JoinedAt:          now,
		LastSeen:          now,
		AudioCapabilities: caps,
	}
	s.LastActivity = now
	if s.Status == StatusStarted {
		s.Status = StatusActive
	}
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

// LeaveClient detaches a Client socket; idempotent.
func (m *Manager) LeaveClient(sessionID, socketID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, present := s.Clients[socketID]; !present {
		return clone(s), nil
	}
	delete(s.Clients, socketID)
	s.LastActivity = time.Now().UTC()
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

// LeaveAllSessions removes socketID from every session it has joined,
// used when a Client socket closes without sending leave-session.
func (m *Manager) LeaveAllSessions(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if _, ok := s.Clients[socketID]; ok {
			delete(s.Clients, socketID)
			s.LastActivity = time.Now().UTC()
			_ = m.persistLocked(s)
		}
	}
}

// SetClientLanguage updates a client's preferred language; it must
// already be enabled on the session.
func (m *Manager) SetClientLanguage(sessionID, socketID, newLanguage string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	membership, present := s.Clients[socketID]
	if !present {
		return nil, fmt.Errorf("socket %s is not a member of session %s", socketID, sessionID)
	}
	if !s.Config.LanguageEnabled(newLanguage) {
		return nil, fmt.Errorf("%w: language %q is not enabled for this session", ErrInvalidConfig, newLanguage)
	}
	membership.PreferredLanguage = newLanguage
	membership.LastSeen = time.Now().UTC()
	s.Clients[socketID] = membership
	s.LastActivity = time.Now().UTC()
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

// UpdateAdminSocket reattaches sessionID to a new admin socket, used on
// reconnect; if the session was paused it resumes to active.
func (m *Manager) UpdateAdminSocket(sessionID, newSocketID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if isTerminal(s.Status) {
		return nil, ErrTerminal
	}
	s.CurrentAdminSocketID = newSocketID
	s.AdminDetachedAt = nil
	if s.Status == StatusPaused {
		s.Status = StatusActive
	}
	s.LastActivity = time.Now().UTC()
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return clone(s), nil
}

// DetachAdminSocket clears the current admin socket if it matches
// socketID; the janitor sweep later transitions the session to paused
// once the grace window elapses with no reattachment.
func (m *Manager) DetachAdminSocket(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range m.sessions {
		if s.CurrentAdminSocketID == socketID {
			s.CurrentAdminSocketID = ""
			s.AdminDetachedAt = &now
			_ = m.persistLocked(s)
		}
	}
}

// Get returns an immutable snapshot of sessionID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// ListSessions returns summaries, optionally filtered to those owned by
// requesterAdminID.
func (m *Manager) ListSessions(requesterAdminID, filter string) []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		isOwner := s.AdminID == requesterAdminID
		if filter == "owned" && !isOwner {
			continue
		}
		out = append(out, Summary{
			SessionID:    s.SessionID,
			CreatedBy:    s.CreatedBy,
			Status:       s.Status,
			ClientCount:  len(s.Clients),
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			IsOwner:      isOwner,
		})
	}
	return out
}

// OwnedSessionIDs returns the ids of non-terminal sessions owned by
// adminID, used to populate admin-auth-response.ownedSessions.
func (m *Manager) OwnedSessionIDs(adminID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, s := range m.sessions {
		if s.AdminID == adminID && !isTerminal(s.Status) {
			ids = append(ids, s.SessionID)
		}
	}
	return ids
}

// AllSessionIDs returns the ids of every non-terminal session regardless
// of owner, used to populate admin-auth-response.allSessions.
func (m *Manager) AllSessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, s := range m.sessions {
		if !isTerminal(s.Status) {
			ids = append(ids, s.SessionID)
		}
	}
	return ids
}

// ActiveCount returns the number of sessions in a non-terminal state.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if !isTerminal(s.Status) {
			count++
		}
	}
	return count
}

// StartJanitor runs the pause-on-detach sweep and the ended-session
// retention purge on interval until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepPause()
				m.sweepRetention(retention)
			}
		}
	}()
}

func (m *Manager) sweepPause() {
	now := time.Now()
	var paused []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive || s.AdminDetachedAt == nil {
			continue
		}
		if now.Sub(*s.AdminDetachedAt) < AdminDetachGrace {
			continue
		}
		s.Status = StatusPaused
		_ = m.persistLocked(s)
		paused = append(paused, clone(s))
	}
	hook := m.onPaused
	m.mu.Unlock()

	if hook != nil {
		for _, s := range paused {
			hook(s)
		}
	}
}

func (m *Manager) sweepRetention(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	var purgedIDs []string

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status == StatusEnded && s.LastActivity.Before(cutoff) {
			purgedIDs = append(purgedIDs, id)
			delete(m.sessions, id)
		}
	}
	hook := m.onPurged
	m.mu.Unlock()

	for _, id := range purgedIDs {
		_ = persistence.Remove(m.dataDir, id+".json")
		if hook != nil {
			hook(id)
		}
	}
}

// persistLocked writes s to disk; caller must hold m.mu.
func (m *Manager) persistLocked(s *Session) error {
	if err := persistence.WriteAtomic(m.dataDir, s.SessionID+".json", s); err != nil {
		s.Status = StatusError
		return fmt.Errorf("persist session %s: %w", s.SessionID, err)
	}
	return nil
}

func isTerminal(st Status) bool {
	return st == StatusEnded || st == StatusError
}

func validateConfig(cfg Config) error {
	if cfg.SourceLanguage == "" {
		return fmt.Errorf("%w: sourceLanguage is required", ErrInvalidConfig)
	}
	if len(cfg.TargetLanguages) == 0 {
		return fmt.Errorf("%w: targetLanguages must be non-empty", ErrInvalidConfig)
	}
	targets := make(map[string]struct{}, len(cfg.TargetLanguages))
	for _, l := range cfg.TargetLanguages {
		targets[l] = struct{}{}
	}
	for _, l := range cfg.EnabledLanguages {
		if _, ok := targets[l]; !ok {
			return fmt.Errorf("%w: enabledLanguages must be a subset of targetLanguages", ErrInvalidConfig)
		}
	}
	switch cfg.TTSMode {
	case "neural", "standard", "local", "disabled":
	default:
		return fmt.Errorf("%w: invalid ttsMode %q", ErrInvalidConfig, cfg.TTSMode)
	}
	switch cfg.AudioQuality {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("%w: invalid audioQuality %q", ErrInvalidConfig, cfg.AudioQuality)
	}
	switch cfg.AudioConfig.SampleRate {
	case 8000, 16000, 22050, 44100, 48000:
	default:
		return fmt.Errorf("%w: invalid sampleRate %d", ErrInvalidConfig, cfg.AudioConfig.SampleRate)
	}
	switch cfg.AudioConfig.Encoding {
	case "pcm", "opus", "flac":
	default:
		return fmt.Errorf("%w: invalid encoding %q", ErrInvalidConfig, cfg.AudioConfig.Encoding)
	}
	if cfg.AudioConfig.Channels != 1 && cfg.AudioConfig.Channels != 2 {
		return fmt.Errorf("%w: invalid channels %d", ErrInvalidConfig, cfg.AudioConfig.Channels)
	}
	return nil
}
