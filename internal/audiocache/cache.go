// Package audiocache implements the Audio Cache: a disk-backed,
// content-addressed store of synthesized audio with LRU+TTL eviction
// and at-most-one-concurrent-synthesis-per-fingerprint coalescing.
package audiocache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voicebridge/hub/internal/persistence"
)

// AudioArtifact is the AudioArtifact entity.
type AudioArtifact struct {
	ArtifactID   string    `json:"artifactId"`
	Format       string    `json:"format"`
	Size         int       `json:"size"`
	DurationHint *float64  `json:"durationHint,omitempty"`
	FilePath     string    `json:"filePath"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

type indexFile struct {
	Artifacts []AudioArtifact `json:"artifacts"`
}

// SynthesizeFunc produces raw audio bytes for a cache miss.
type SynthesizeFunc func(ctx context.Context) (bytes []byte, format string, durationHint *float64, err error)

// Cache is the Audio Cache.
type Cache struct {
	dir      string
	maxBytes int64
	maxAge   time.Duration

	mu         sync.Mutex
	byID       map[string]*AudioArtifact
	lru        *list.List
	lruElem    map[string]*list.Element
	totalBytes int64

	group singleflight.Group
}

// New loads the persisted index (if any) from dir/cache-index.json and
// returns a ready Cache.
func New(dir string, maxBytes int64, maxAge time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		byID:     make(map[string]*AudioArtifact),
		lru:      list.New(),
		lruElem:  make(map[string]*list.Element),
	}

	data, err := os.ReadFile(filepath.Join(dir, "cache-index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupt index is tolerated the same way session/admin
		// records are: start from empty rather than fail startup.
		return c, nil
	}
	for i := range idx.Artifacts {
		a := idx.Artifacts[i]
		if _, err := os.Stat(a.FilePath); err != nil {
			continue // stale entry whose file is missing; drop silently
		}
		c.byID[a.ArtifactID] = &a
		c.totalBytes += int64(a.Size)
		c.lruElem[a.ArtifactID] = c.lru.PushFront(a.ArtifactID)
	}
	return c, nil
}

// Fingerprint computes the deterministic artifact id for (text,
// language, voiceType).
func Fingerprint(text, language, voiceType string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(voiceType))
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up an existing artifact by its logical key, touching its
// LRU position on hit.
func (c *Cache) Get(text, language, voiceType string) (*AudioArtifact, bool) {
	id := Fingerprint(text, language, voiceType)
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	a.LastAccessed = time.Now().UTC()
	c.touchLocked(id)
	cp := *a
	return &cp, true
}

// GetOrSynthesize returns the cached artifact for (text, language,
// voiceType) or calls synth exactly once per fingerprint even under
// concurrent callers, storing the result before returning it.
func (c *Cache) GetOrSynthesize(ctx context.Context, text, language, voiceType string, synth SynthesizeFunc) (*AudioArtifact, error) {
	if a, ok := c.Get(text, language, voiceType); ok {
		return a, nil
	}

	id := Fingerprint(text, language, voiceType)
	v, err, _ := c.group.Do(id, func() (any, error) {
		// Re-check under the singleflight key: another caller may have
		// completed the synthesis and Put while we were waiting to enter.
		if a, ok := c.Get(text, language, voiceType); ok {
			return a, nil
		}
		bytes, format, duration, err := synth(ctx)
		if err != nil {
			return nil, err
		}
		return c.put(id, format, duration, bytes)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AudioArtifact), nil
}

func (c *Cache) put(id, format string, durationHint *float64, data []byte) (*AudioArtifact, error) {
	ext := format
	if ext == "" {
		ext = "bin"
	}
	path := filepath.Join(c.dir, id+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	now := time.Now().UTC()
	a := &AudioArtifact{
		ArtifactID:   id,
		Format:       format,
		Size:         len(data),
		DurationHint: durationHint,
		FilePath:     path,
		CreatedAt:    now,
		LastAccessed: now,
	}

	c.mu.Lock()
	c.byID[id] = a
	c.totalBytes += int64(len(data))
	c.touchLocked(id)
	c.mu.Unlock()

	if err := c.persist(); err != nil {
		return nil, err
	}
	cp := *a
	return &cp, nil
}

// touchLocked moves id to the front of the LRU list; caller holds c.mu.
func (c *Cache) touchLocked(id string) {
	if elem, ok := c.lruElem[id]; ok {
		c.lru.MoveToFront(elem)
		return
	}
	c.lruElem[id] = c.lru.PushFront(id)
}

// Open returns a reader for the artifact's file plus its metadata,
// touching lastAccessed. Callers must Close the reader.
func (c *Cache) Open(artifactID string) (*os.File, AudioArtifact, error) {
	c.mu.Lock()
	a, ok := c.byID[artifactID]
	if ok {
		a.LastAccessed = time.Now().UTC()
		c.touchLocked(artifactID)
	}
	c.mu.Unlock()
	if !ok {
		return nil, AudioArtifact{}, os.ErrNotExist
	}
	f, err := os.Open(a.FilePath)
	if err != nil {
		return nil, AudioArtifact{}, err
	}
	return f, *a, nil
}

// Sweep removes artifacts older than maxAge and evicts LRU entries
// while the cache exceeds maxBytes.
func (c *Cache) Sweep() {
	cutoff := time.Now().Add(-c.maxAge)
	var toRemove []string

	c.mu.Lock()
	for id, a := range c.byID {
		if a.LastAccessed.Before(cutoff) {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		c.removeLocked(id)
	}

	for c.totalBytes > c.maxBytes {
		back := c.lru.Back()
		if back == nil {
			break
		}
		id := back.Value.(string)
		if _, ok := c.byID[id]; !ok {
			c.lru.Remove(back)
			delete(c.lruElem, id)
			continue
		}
		c.removeLocked(id)
	}
	c.mu.Unlock()

	_ = c.persist()
}

// removeLocked deletes artifact id's file and index entry; caller holds c.mu.
func (c *Cache) removeLocked(id string) {
	a, ok := c.byID[id]
	if !ok {
		return
	}
	_ = os.Remove(a.FilePath)
	c.totalBytes -= int64(a.Size)
	delete(c.byID, id)
	if elem, ok := c.lruElem[id]; ok {
		c.lru.Remove(elem)
		delete(c.lruElem, id)
	}
}

// StartJanitor runs Sweep on interval until ctx is cancelled.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stats summarizes the cache for /health.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"totalBytes"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.byID), TotalBytes: c.totalBytes}
}

func (c *Cache) persist() error {
	c.mu.Lock()
	snap := make([]AudioArtifact, 0, len(c.byID))
	for _, a := range c.byID {
		snap = append(snap, *a)
	}
	c.mu.Unlock()

	return persistence.WriteAtomic(c.dir, "cache-index.json", indexFile{Artifacts: snap})
}
