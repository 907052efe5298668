// Package adminidentity implements the Admin Identity Manager: the
// per-adminId persistent record, its currently attached sockets, and the
// sessionId -> adminId reverse index used for ownership checks.
package adminidentity

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voicebridge/hub/internal/persistence"
)

// Record is the persisted AdminIdentity entity.
type Record struct {
	AdminID         string    `json:"adminId"`
	DisplayName     string    `json:"displayName"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeen        time.Time `json:"lastSeen"`
	OwnedSessionIDs []string  `json:"ownedSessionIds"`
}

type entry struct {
	record        Record
	activeSockets map[string]struct{}
}

// Manager is the authoritative registry of AdminIdentity records.
type Manager struct {
	mu            sync.RWMutex
	dataDir       string
	byAdmin       map[string]*entry
	sessionOwner  map[string]string // sessionId -> adminId
}

// NewManager loads any persisted records from dataDir and returns a
// ready-to-use Manager.
func NewManager(dataDir string) (*Manager, error) {
	records, err := persistence.ReadAll[Record](dataDir)
	if err != nil {
		return nil, fmt.Errorf("load admin identities: %w", err)
	}
	m := &Manager{
		dataDir:      dataDir,
		byAdmin:      make(map[string]*entry, len(records)),
		sessionOwner: make(map[string]string),
	}
	for _, rec := range records {
		m.byAdmin[rec.AdminID] = &entry{record: rec, activeSockets: make(map[string]struct{})}
		for _, sid := range rec.OwnedSessionIDs {
			m.sessionOwner[sid] = rec.AdminID
		}
	}
	return m, nil
}

// Attach upserts the AdminIdentity record, adds socketID to the active
// set, and touches lastSeen. It reports whether this attach represents
// a reconnection (the admin had zero attached sockets and owns at least
// one session), matching the `admin-reconnection` emission contract.
func (m *Manager) Attach(adminID, socketID, displayName string) (reconnected bool, err error) {
	m.mu.Lock()
	e, ok := m.byAdmin[adminID]
	if !ok {
		e = &entry{
			record: Record{
				AdminID:     adminID,
				DisplayName: displayName,
				CreatedAt:   time.Now().UTC(),
			},
			activeSockets: make(map[string]struct{}),
		}
		m.byAdmin[adminID] = e
	}
	wasEmpty := len(e.activeSockets) == 0
	hasOwned := len(e.record.OwnedSessionIDs) > 0
	e.activeSockets[socketID] = struct{}{}
	e.record.LastSeen = time.Now().UTC()
	if displayName != "" {
		e.record.DisplayName = displayName
	}
	rec := e.record
	m.mu.Unlock()

	if err := m.persist(rec); err != nil {
		return false, err
	}
	return wasEmpty && hasOwned, nil
}

// Detach removes socketID from whichever admin has it attached; it does
// not evict any sessions.
func (m *Manager) Detach(socketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byAdmin {
		delete(e.activeSockets, socketID)
	}
}

// AssertOwns reports whether sessionID's owner equals adminID.
func (m *Manager) AssertOwns(adminID, sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionOwner[sessionID] == adminID
}

// OwnerOf returns the adminId that owns sessionID, if tracked.
func (m *Manager) OwnerOf(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionOwner[sessionID]
	return id, ok
}

// AddOwnedSession records that adminID now owns sessionID and persists
// the updated record.
func (m *Manager) AddOwnedSession(adminID, sessionID string) error {
	m.mu.Lock()
	e, ok := m.byAdmin[adminID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("admin %s not found", adminID)
	}
	if !containsString(e.record.OwnedSessionIDs, sessionID) {
		e.record.OwnedSessionIDs = append(e.record.OwnedSessionIDs, sessionID)
		sort.Strings(e.record.OwnedSessionIDs)
	}
	m.sessionOwner[sessionID] = adminID
	rec := e.record
	m.mu.Unlock()
	return m.persist(rec)
}

// RemoveOwnedSession drops sessionID from adminID's owned set, e.g. once
// the session has fully retired, and persists the change.
func (m *Manager) RemoveOwnedSession(adminID, sessionID string) error {
	m.mu.Lock()
	e, ok := m.byAdmin[adminID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	e.record.OwnedSessionIDs = removeString(e.record.OwnedSessionIDs, sessionID)
	delete(m.sessionOwner, sessionID)
	rec := e.record
	m.mu.Unlock()
	return m.persist(rec)
}

// Get returns a snapshot of the record plus the current active-socket
// count, for /health and list-sessions annotation.
func (m *Manager) Get(adminID string) (Record, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byAdmin[adminID]
	if !ok {
		return Record{}, 0, false
	}
	return cloneRecord(e.record), len(e.activeSockets), true
}

// ActiveSocketCount returns the number of attached sockets, summed
// across every admin, for /health.
func (m *Manager) ActiveSocketCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, e := range m.byAdmin {
		total += len(e.activeSockets)
	}
	return total
}

// Sweep purges records whose lastSeen is older than retention and that
// own no sessions and have no attached sockets.
func (m *Manager) Sweep(retention time.Duration) []string {
	cutoff := time.Now().Add(-retention)

	m.mu.Lock()
	var purged []string
	for adminID, e := range m.byAdmin {
		if len(e.activeSockets) > 0 || len(e.record.OwnedSessionIDs) > 0 {
			continue
		}
		if e.record.LastSeen.After(cutoff) {
			continue
		}
		purged = append(purged, adminID)
		delete(m.byAdmin, adminID)
	}
	m.mu.Unlock()

	for _, adminID := range purged {
		_ = persistence.Remove(m.dataDir, adminID+".json")
	}
	return purged
}

func (m *Manager) persist(rec Record) error {
	return persistence.WriteAtomic(m.dataDir, rec.AdminID+".json", rec)
}

func cloneRecord(r Record) Record {
	out := r
	out.OwnedSessionIDs = append([]string(nil), r.OwnedSessionIDs...)
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
