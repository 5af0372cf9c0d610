package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupCacheTTL  = 10 * time.Minute
	dedupKeyPrefix = "notify:dedup:"
)

// dedupCache is a Redis fast-path in front of the store's dedup_key UNIQUE
// constraint: it lets a bulk replanning pass skip a DB round-trip for
// dedup_keys it has already confirmed planned this process, without ever
// being the source of truth (the constraint still governs correctness;
// Redis is an optimization, never load-bearing).
type dedupCache struct {
	rdb *redis.Client
	log *slog.Logger
}

func newDedupCache(rdb *redis.Client, log *slog.Logger) *dedupCache {
	return &dedupCache{rdb: rdb, log: log}
}

// seen reports whether dedupKey was recently confirmed planned.
func (d *dedupCache) seen(ctx context.Context, dedupKey string) bool {
	if d.rdb == nil {
		return false
	}
	n, err := d.rdb.Exists(ctx, dedupKeyPrefix+dedupKey).Result()
	if err != nil {
		d.log.Warn("dedup cache lookup failed, falling through to store", "error", err)
		return false
	}
	return n > 0
}

// record marks dedupKey as planted in the fast-path cache.
func (d *dedupCache) record(ctx context.Context, dedupKey string) {
	if d.rdb == nil {
		return
	}
	if err := d.rdb.Set(ctx, dedupKeyPrefix+dedupKey, "1", dedupCacheTTL).Err(); err != nil {
		d.log.Warn("failed to record dedup cache entry", "error", err)
	}
}
