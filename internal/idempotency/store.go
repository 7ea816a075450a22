package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewStores builds a Redis-backed deduper and locker and falls back to
// in-memory ones when Redis is not configured or does not answer. The error is
// the ping failure, returned so the caller can log the downgrade.
func NewStores(addr, pass string, db int, dedupTTL, lockTTL time.Duration) (Deduper, Locker, error) {
	if dedupTTL <= 0 {
		dedupTTL = 72 * time.Hour
	}
	if addr == "" {
		return NewMemoryDeduper(dedupTTL), NewKeyedMutex(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return NewMemoryDeduper(dedupTTL), NewKeyedMutex(), err
	}

	return NewRedisDeduper(client, dedupTTL), NewRedisLocker(client, lockTTL), nil
}
