package contextstore

import (
	"context"
	"sync"
	"time"
)

// ChainedStore is the lightweight backing strategy for completion providers
// that retain conversation history server-side. It keeps only the most
// recent exchange identifier per key — enough to chain the next call to the
// prior one — and none of the turn text.
//
// Get reports the chain as a single Turn whose only populated field is Ref,
// so the conversation manager uses the same code path for both strategies:
// text turns feed the prompt, the last Ref feeds the provider.
type ChainedStore struct {
	mu  sync.Mutex
	cfg Config
	// refs maps key → latest exchange ref plus bookkeeping timestamps.
	refs map[string]*chainedRef

	now func() time.Time
}

type chainedRef struct {
	ref       string
	createdAt time.Time
	touchedAt time.Time
}

// NewChainedStore creates a ChainedStore. MaxTurns is meaningless for this
// backend and ignored; TTL and MaxKeys apply as usual.
func NewChainedStore(cfg Config) *ChainedStore {
	return &ChainedStore{
		cfg:  cfg.withDefaults(),
		refs: make(map[string]*chainedRef),
		now:  time.Now,
	}
}

// Get returns at most one Turn carrying the stored exchange ref.
func (s *ChainedStore) Get(_ context.Context, key string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.refs[key]
	if r == nil {
		return nil, nil
	}
	if now.Sub(r.createdAt) > s.cfg.TTL {
		delete(s.refs, key)
		return nil, nil
	}

	r.touchedAt = now
	return []Turn{{Ref: r.ref}}, nil
}

// Append replaces the stored ref with the new turn's ref. Turns without a
// ref are dropped: there is nothing this backend could chain to.
func (s *ChainedStore) Append(_ context.Context, key string, turn Turn) error {
	if turn.Ref == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.refs[key]
	if r != nil && now.Sub(r.createdAt) > s.cfg.TTL {
		r = nil
	}
	if r == nil {
		r = &chainedRef{createdAt: now}
		s.refs[key] = r
		s.evictOverCapLocked(key)
	}
	r.ref = turn.Ref
	r.touchedAt = now
	return nil
}

// evictOverCapLocked drops least-recently-touched keys over the namespace
// cap. Must be called with mu held.
func (s *ChainedStore) evictOverCapLocked(justInserted string) {
	for len(s.refs) > s.cfg.MaxKeys {
		oldestKey := ""
		var oldest time.Time
		for k, r := range s.refs {
			if k == justInserted {
				continue
			}
			if oldestKey == "" || r.touchedAt.Before(oldest) {
				oldestKey = k
				oldest = r.touchedAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.refs, oldestKey)
	}
}

var _ Store = (*ChainedStore)(nil)
