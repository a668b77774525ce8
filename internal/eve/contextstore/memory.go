package contextstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process backend. It needs no external service and
// is the default for single-node deployments and tests.
//
// Eviction scans are linear in the number of keys, which is bounded by
// MaxKeys (typically ~100), so no ordered index is kept.
type MemoryStore struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*memoryEntry

	// now is injectable for tests.
	now func() time.Time
}

type memoryEntry struct {
	turns     []Turn
	createdAt time.Time // TTL anchor: set once, on first turn
	touchedAt time.Time // LRU ordering: refreshed on Get and Append
}

// NewMemoryStore creates a MemoryStore with the given limits.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Get returns the turns for key in chronological order. Expired contexts
// are removed and reported as empty.
func (s *MemoryStore) Get(_ context.Context, key string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.entries[key]
	if e == nil {
		return nil, nil
	}
	if now.Sub(e.createdAt) > s.cfg.TTL {
		delete(s.entries, key)
		return nil, nil
	}

	e.touchedAt = now
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

// Append records a turn under key, applying FIFO turn eviction, the fixed
// TTL window, and namespace LRU eviction.
func (s *MemoryStore) Append(_ context.Context, key string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.entries[key]
	if e != nil && now.Sub(e.createdAt) > s.cfg.TTL {
		delete(s.entries, key)
		e = nil
	}
	if e == nil {
		e = &memoryEntry{createdAt: now}
		s.entries[key] = e
		s.evictOverCapLocked(key, now)
	}

	e.turns = append(e.turns, turn)
	if excess := len(e.turns) - s.cfg.MaxTurns; excess > 0 {
		e.turns = e.turns[excess:]
	}
	e.touchedAt = now
	return nil
}

// evictOverCapLocked drops least-recently-touched keys until the namespace
// is back under MaxKeys. The key just inserted is never a candidate.
// Must be called with mu held.
func (s *MemoryStore) evictOverCapLocked(justInserted string, now time.Time) {
	for len(s.entries) > s.cfg.MaxKeys {
		oldestKey := ""
		var oldest time.Time
		for k, e := range s.entries {
			if k == justInserted {
				continue
			}
			// Expired entries go first regardless of recency.
			if now.Sub(e.createdAt) > s.cfg.TTL {
				oldestKey = k
				break
			}
			if oldestKey == "" || e.touchedAt.Before(oldest) {
				oldestKey = k
				oldest = e.touchedAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.entries, oldestKey)
	}
}

var _ Store = (*MemoryStore)(nil)
