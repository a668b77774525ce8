// Package contextstore keeps the bounded, expiring conversation context the
// bot attaches when forwarding a message to the completion API.
//
// A context is an ordered sequence of turns keyed by user identity. Every
// backend enforces three limits:
//
//   - per-key turn cap: oldest turns are evicted first (FIFO)
//   - per-key TTL: a fixed expiry window measured from the first turn; the
//     TTL is not refreshed on later writes, so a context dies at most TTL
//     after it was started
//   - namespace cap: a maximum number of distinct keys; when exceeded, the
//     least-recently-touched key is dropped entirely
//
// Consistency is deliberately weak: two concurrent messages from the same
// user may interleave their read-modify-write cycles, and the last write
// wins on the context. Backends serialize individual Get and Append calls
// so an interleaving can lose a turn but never corrupt the sequence.
package contextstore

import (
	"context"
	"time"
)

// Turn is one utterance/reply exchange. Immutable once created.
type Turn struct {
	// ID uniquely identifies the turn.
	ID string `json:"id"`
	// Utterance is what the user said.
	Utterance string `json:"utterance"`
	// Reply is what the bot answered.
	Reply string `json:"reply"`
	// Ref is the completion provider's opaque exchange identifier, when the
	// provider reports one. The chained backend persists only this field.
	Ref string `json:"ref,omitempty"`
	// CreatedAt is when the exchange completed.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the context persistence contract the conversation manager
// depends on. Implementations must be safe for concurrent use.
//
// Get returns the turns for key in chronological order, or an empty slice
// when the key is absent or its context has expired.
//
// Append records a new turn under key, creating the context when absent
// and applying the eviction rules described in the package comment.
//
// A Store that is unavailable (backing service down) returns an error from
// both methods; callers are expected to degrade to empty context rather
// than fail the message.
type Store interface {
	Get(ctx context.Context, key string) ([]Turn, error)
	Append(ctx context.Context, key string, turn Turn) error
}

// Config carries the limits shared by all backends.
type Config struct {
	// MaxTurns is the per-key turn cap. Default: 10.
	MaxTurns int
	// TTL is the fixed expiry window from the first turn. Default: 1 hour.
	TTL time.Duration
	// MaxKeys is the namespace cap. Default: 100.
	MaxKeys int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns: 10,
		TTL:      time.Hour,
		MaxKeys:  100,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = d.MaxKeys
	}
	return c
}
