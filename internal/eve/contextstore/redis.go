package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each context as a Redis list of JSON-encoded turns with a
// fixed TTL set when the list is created. A sorted set tracks per-key touch
// times so the namespace cap can evict the least-recently-touched key; on a
// shared Redis the server's own maxmemory policy backstops this.
type RedisStore struct {
	client    *redis.Client
	cfg       Config
	namespace string
	logger    *slog.Logger

	now func() time.Time
}

// NewRedisStore connects to Redis at addr and verifies the connection.
// The namespace prefixes every key so several bots can share one instance.
func NewRedisStore(addr, password string, db int, namespace string, cfg Config, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "eve"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("contextstore: connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		cfg:       cfg.withDefaults(),
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) turnsKey(key string) string {
	return s.namespace + ":ctx:" + key
}

func (s *RedisStore) touchedKey() string {
	return s.namespace + ":touched"
}

// Get returns the turns for key in insertion order. Expiry is handled by
// Redis itself: once the list's TTL elapses the key is simply gone.
func (s *RedisStore) Get(ctx context.Context, key string) ([]Turn, error) {
	items, err := s.client.LRange(ctx, s.turnsKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("contextstore: redis lrange: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			s.logger.Warn("contextstore: skip malformed turn", "key", key, "err", err)
			continue
		}
		turns = append(turns, t)
	}

	s.touch(ctx, key)
	return turns, nil
}

// Append pushes the turn onto the key's list, trims to MaxTurns, sets the
// TTL only when the list has none yet (fixed window from first turn), and
// applies the namespace cap.
func (s *RedisStore) Append(ctx context.Context, key string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("contextstore: marshal turn: %w", err)
	}

	tk := s.turnsKey(key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, tk, data)
	pipe.LTrim(ctx, tk, int64(-s.cfg.MaxTurns), -1)
	// NX: set the expiry only if the key has none, so later appends do not
	// extend the window.
	pipe.ExpireNX(ctx, tk, s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("contextstore: redis append: %w", err)
	}

	s.touch(ctx, key)
	return s.evictOverCap(ctx, key)
}

// touch records the key's recency in the tracking sorted set. Failures are
// logged and ignored: recency tracking is advisory, not load-bearing.
func (s *RedisStore) touch(ctx context.Context, key string) {
	err := s.client.ZAdd(ctx, s.touchedKey(), redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: key,
	}).Err()
	if err != nil {
		s.logger.Warn("contextstore: redis touch", "key", key, "err", err)
	}
}

// evictOverCap drops least-recently-touched keys until the namespace is
// back under MaxKeys.
func (s *RedisStore) evictOverCap(ctx context.Context, justTouched string) error {
	count, err := s.client.ZCard(ctx, s.touchedKey()).Result()
	if err != nil {
		return fmt.Errorf("contextstore: redis zcard: %w", err)
	}

	for count > int64(s.cfg.MaxKeys) {
		popped, err := s.client.ZPopMin(ctx, s.touchedKey(), 1).Result()
		if err != nil {
			return fmt.Errorf("contextstore: redis zpopmin: %w", err)
		}
		if len(popped) == 0 {
			return nil
		}
		victim, _ := popped[0].Member.(string)
		if victim == "" {
			count--
			continue
		}
		if victim == justTouched {
			// Never evict the key we just wrote; put it back and stop.
			s.touch(ctx, victim)
			return nil
		}
		if err := s.client.Del(ctx, s.turnsKey(victim)).Err(); err != nil {
			return fmt.Errorf("contextstore: redis del %q: %w", victim, err)
		}
		count--
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
