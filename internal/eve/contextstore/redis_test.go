package contextstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestRedisStore runs an in-process Redis server for the test.
func newTestRedisStore(t *testing.T, cfg Config) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), "", 0, "eve", cfg, nil)
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_RoundTripPreservesOrder(t *testing.T) {
	store, _ := newTestRedisStore(t, Config{MaxTurns: 10, TTL: time.Hour, MaxKeys: 100})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := store.Append(ctx, "alice", Turn{
			ID:        fmt.Sprintf("t%d", i),
			Utterance: fmt.Sprintf("question %d", i),
			Reply:     fmt.Sprintf("answer %d", i),
			Ref:       fmt.Sprintf("ref-%d", i),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i := range turns {
		if turns[i].Utterance != fmt.Sprintf("question %d", i+1) {
			t.Errorf("turns[%d] out of order: %q", i, turns[i].Utterance)
		}
	}
	if turns[2].Ref != "ref-3" {
		t.Errorf("Ref = %q, want ref-3", turns[2].Ref)
	}
}

func TestRedisStore_TurnCapFIFO(t *testing.T) {
	store, _ := newTestRedisStore(t, Config{MaxTurns: 3, TTL: time.Hour, MaxKeys: 100})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		store.Append(ctx, "alice", Turn{
			ID:        fmt.Sprintf("t%d", i),
			Utterance: fmt.Sprintf("question %d", i),
			Reply:     "answer",
		})
	}

	turns, _ := store.Get(ctx, "alice")
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns after trim, got %d", len(turns))
	}
	if turns[0].Utterance != "question 3" {
		t.Errorf("oldest surviving turn = %q, want question 3", turns[0].Utterance)
	}
}

func TestRedisStore_TTLFixedFromFirstTurn(t *testing.T) {
	store, mr := newTestRedisStore(t, Config{MaxTurns: 10, TTL: time.Hour, MaxKeys: 100})
	ctx := context.Background()

	store.Append(ctx, "alice", Turn{ID: "t1", Utterance: "hi", Reply: "hello"})

	mr.FastForward(45 * time.Minute)
	// A later append must not extend the window (ExpireNX leaves the
	// existing expiry alone).
	store.Append(ctx, "alice", Turn{ID: "t2", Utterance: "still there?", Reply: "yes"})
	if ttl := mr.TTL(store.turnsKey("alice")); ttl > 15*time.Minute {
		t.Fatalf("TTL = %v after second append, want the remaining 15m of the original window", ttl)
	}

	mr.FastForward(20 * time.Minute)
	if turns, _ := store.Get(ctx, "alice"); len(turns) != 0 {
		t.Fatal("expected context to expire 1h after first turn")
	}
}

func TestRedisStore_NamespaceLRUEviction(t *testing.T) {
	store, _ := newTestRedisStore(t, Config{MaxTurns: 10, TTL: time.Hour, MaxKeys: 2})
	now, advance := fakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store.now = now
	ctx := context.Background()

	store.Append(ctx, "alice", Turn{ID: "a", Utterance: "hi", Reply: "hello"})
	advance(time.Minute)
	store.Append(ctx, "bob", Turn{ID: "b", Utterance: "hi", Reply: "hello"})
	advance(time.Minute)

	// Touch alice so bob becomes the eviction candidate.
	store.Get(ctx, "alice")
	advance(time.Minute)

	store.Append(ctx, "carol", Turn{ID: "c", Utterance: "hi", Reply: "hello"})

	if turns, _ := store.Get(ctx, "bob"); len(turns) != 0 {
		t.Error("expected bob to be evicted as least-recently-touched")
	}
	if turns, _ := store.Get(ctx, "alice"); len(turns) != 1 {
		t.Error("expected alice to survive")
	}
	if turns, _ := store.Get(ctx, "carol"); len(turns) != 1 {
		t.Error("expected carol to survive")
	}
}

func TestRedisStore_NeverEvictsJustWrittenKey(t *testing.T) {
	store, _ := newTestRedisStore(t, Config{MaxTurns: 10, TTL: time.Hour, MaxKeys: 1})
	now, advance := fakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store.now = now
	ctx := context.Background()

	store.Append(ctx, "alice", Turn{ID: "a", Utterance: "hi", Reply: "hello"})
	advance(time.Minute)
	store.Append(ctx, "bob", Turn{ID: "b", Utterance: "hi", Reply: "hello"})

	if turns, _ := store.Get(ctx, "bob"); len(turns) != 1 {
		t.Error("expected the just-written key to survive the cap")
	}
	if turns, _ := store.Get(ctx, "alice"); len(turns) != 0 {
		t.Error("expected alice to be evicted instead")
	}
}

func TestRedisStore_GetUnknownKey(t *testing.T) {
	store, _ := newTestRedisStore(t, Config{})

	turns, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty result, got %d turns", len(turns))
	}
}
