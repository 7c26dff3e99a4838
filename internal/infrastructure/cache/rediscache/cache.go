// Package rediscache implements C9, the fingerprinted analysis cache, on
// redis/go-redis/v9 — the same driver the queue's progress side-channel
// uses, kept separate here because the cache has its own TTL and
// invalidation-by-path semantics.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

const keyPrefix = "analysis:"
const pathIndexPrefix = "analysis-paths:"

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Cache struct {
	client *redis.Client
}

func New(cfg Config) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// cacheKey fingerprints on path and last-modified so a changed file
// invalidates the entry implicitly, without a separate invalidation pass.
func cacheKey(path string, lastModified time.Time) string {
	sum := sha256.Sum256([]byte(path + ":" + lastModified.UTC().Format(time.RFC3339Nano)))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func pathIndexKey(path string) string {
	sum := sha256.Sum256([]byte(path))
	return pathIndexPrefix + hex.EncodeToString(sum[:])
}

// Get returns nil, nil on a miss (including a logically expired entry),
// never domain.ErrCacheMiss directly — the worker processor decides what a
// miss means, the cache only reports fact.
func (c *Cache) Get(ctx context.Context, path string, lastModified time.Time) (*domain.CacheEntry, error) {
	raw, err := c.client.Get(ctx, cacheKey(path, lastModified)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "cache.get", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "cache.get.decode", err)
	}
	if entry.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return &entry, nil
}

func (c *Cache) Set(ctx context.Context, path string, lastModified time.Time, analysis domain.Analysis, ttl time.Duration) error {
	now := time.Now().UTC()
	entry := domain.CacheEntry{
		Key:          cacheKey(path, lastModified),
		ProjectPath:  path,
		LastModified: lastModified,
		Analysis:     analysis,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "cache.set", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, entry.Key, raw, ttl)
	pipe.SAdd(ctx, pathIndexKey(path), entry.Key)
	pipe.Expire(ctx, pathIndexKey(path), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.WrapError(domain.ErrTemporary, "cache.set", err)
	}
	return nil
}

// Invalidate removes every fingerprint ever stored for path, since a path's
// fingerprint changes with every LastModified it has been cached under.
func (c *Cache) Invalidate(ctx context.Context, path string) (int, error) {
	idxKey := pathIndexKey(path)
	keys, err := c.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, domain.WrapError(domain.ErrTemporary, "cache.invalidate", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "cache.invalidate", err)
	}
	c.client.Del(ctx, idxKey)
	return int(removed), nil
}

// ClearExpired is a best-effort sweep; redis's own TTL eviction already
// handles most of this, the sweep exists for the admin-visible count.
func (c *Cache) ClearExpired(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return removed, domain.WrapError(domain.ErrTemporary, "cache.clear_expired", err)
		}
		for _, k := range keys {
			raw, err := c.client.Get(ctx, k).Bytes()
			if err != nil {
				continue
			}
			var entry domain.CacheEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}
			if entry.Expired(time.Now().UTC()) {
				c.client.Del(ctx, k)
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func (c *Cache) Stats(ctx context.Context) (domain.CacheStats, error) {
	var cursor uint64
	var keys int64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return domain.CacheStats{}, domain.WrapError(domain.ErrTemporary, "cache.stats", err)
		}
		keys += int64(len(batch))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	hits, _ := c.client.Get(ctx, "analysis-stats:hits").Int64()
	misses, _ := c.client.Get(ctx, "analysis-stats:misses").Int64()
	return domain.CacheStats{Keys: keys, HitTotal: hits, MissTotal: misses}, nil
}

func (c *Cache) Healthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// RecordHit and RecordMiss are called by the worker processor around each
// Get, kept out of Get itself so that cache-hit accounting stays a
// deliberate caller decision rather than an implicit side effect of Get.
func (c *Cache) RecordHit(ctx context.Context) {
	c.client.Incr(ctx, "analysis-stats:hits")
}

func (c *Cache) RecordMiss(ctx context.Context) {
	c.client.Incr(ctx, "analysis-stats:misses")
}
