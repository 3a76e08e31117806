package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultDedupTTL is how long a relayed message id is remembered
	DefaultDedupTTL = 24 * time.Hour

	dedupKeyPrefix = "code-relay:seen:"
)

// Deduper remembers which messages have already been relayed
type Deduper interface {
	// IsNew reports whether id has not been seen, marking it seen atomically
	IsNew(ctx context.Context, id string) (bool, error)
}

// RedisDeduper shares seen ids between relay instances
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDeduper creates a Redis-backed Deduper
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// NewRedisDeduperFromURL parses a redis:// URL and verifies the server is reachable
func NewRedisDeduperFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*RedisDeduper, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisDeduper(rdb, ttl), nil
}

// IsNew implements Deduper with SET NX
func (d *RedisDeduper) IsNew(ctx context.Context, id string) (bool, error) {
	set, err := d.rdb.SetNX(ctx, dedupKeyPrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Close closes the Redis client
func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}

// MemoryDeduper is the single-process Deduper
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduper creates an in-memory Deduper
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// IsNew implements Deduper
func (d *MemoryDeduper) IsNew(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)
	return true, nil
}
