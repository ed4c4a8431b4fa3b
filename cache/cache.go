// Package cache implements the fingerprinted response cache with
// refresh-ahead repopulation and single-flight refresh collapsing, backed
// by Redis for both the cached values and the distributed refresh lock.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
)

var logger = l3.Get()

// RefreshFunc recomputes the value for a cache key. Implementations are
// the Unified API Client's network path; refresh failures are logged and
// leave the stale value in place until the next refresh attempt.
type RefreshFunc func(ctx context.Context) ([]byte, error)

// Cache is the fingerprinted response cache with refresh-ahead and
// single-flight semantics described in spec.md §4.2.
type Cache interface {
	// Get returns the cached value for key if present. When the remaining
	// TTL fraction falls below refreshThreshold, a non-blocking background
	// refresh is launched (collapsed via single-flight) before returning
	// the still-valid stale value.
	Get(ctx context.Context, key string, ttl time.Duration, refreshThreshold float64, refresh RefreshFunc) ([]byte, bool, error)
	// Set overwrites key unconditionally with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes every key matching pattern, in bounded-size batches.
	Delete(ctx context.Context, pattern string) error
	// Invalidate is called whenever a key under changedKeyPrefix is
	// mutated; it asynchronously deletes every pattern configured as
	// dependent on that prefix.
	Invalidate(changedKeyPrefix string)
	// RegisterDependency configures a changed_key_prefix -> dependent
	// pattern mapping (spec.md §4.2 "Dependency invalidation").
	RegisterDependency(changedKeyPrefix string, dependentPatterns ...string)
}

const (
	lockTTLDefault   = 10 * time.Second
	deleteBatchSize  = 500
	createdAtHdrSize = 8 // unix seconds, little-endian, prefixed to stored payloads
)

type redisCache struct {
	rdb     *redis.Client
	lockTTL time.Duration
	sf      singleflight.Group
	deps    map[string][]string
}

// New creates a Cache backed by rdb. lockTTL bounds the worst-case hold
// time of the distributed single-flight refresh lock.
func New(rdb *redis.Client, lockTTL time.Duration) Cache {
	if lockTTL <= 0 {
		lockTTL = lockTTLDefault
	}
	return &redisCache{
		rdb:     rdb,
		lockTTL: lockTTL,
		deps:    make(map[string][]string),
	}
}

func (c *redisCache) Get(ctx context.Context, key string, ttl time.Duration, refreshThreshold float64, refresh RefreshFunc) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}

	entry, err := decodeEntry(raw, ttl)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	if entry.RemainingFraction(now) < refreshThreshold && refresh != nil {
		c.launchRefresh(key, ttl, refresh)
	}
	return entry.Value, true, nil
}

// launchRefresh starts a non-blocking background refresh for key, using
// an in-process singleflight.Group to collapse concurrent callers on this
// instance, and a Redis-held lock (compare-and-delete by owner tag) to
// collapse refreshes across instances — spec.md §4.2's
// "at most one refresh-in-flight per fingerprint".
func (c *redisCache) launchRefresh(key string, ttl time.Duration, refresh RefreshFunc) {
	go func() {
		_, _, _ = c.sf.Do(key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.lockTTL)
			defer cancel()

			lockKey := "lock:refresh:" + key
			owner := newOwnerTag()
			acquired, err := c.rdb.SetNX(ctx, lockKey, owner, c.lockTTL).Result()
			if err != nil {
				logger.ErrorF("cache: refresh lock acquire failed for %s: %v", key, err)
				return nil, err
			}
			if !acquired {
				// another worker already owns the refresh; nothing to do.
				return nil, nil
			}
			defer c.releaseLock(context.Background(), lockKey, owner)

			value, err := refresh(ctx)
			if err != nil {
				logger.ErrorF("cache: refresh-ahead failed for %s: %v", key, err)
				return nil, err
			}
			if err := c.Set(ctx, key, value, ttl); err != nil {
				logger.ErrorF("cache: refresh-ahead store failed for %s: %v", key, err)
				return nil, err
			}
			return nil, nil
		})
	}()
}

// releaseLock performs a compare-and-delete: it only deletes lockKey if
// the stored owner tag still matches, so a lock that has already expired
// and been re-acquired by someone else is left alone.
func (c *redisCache) releaseLock(ctx context.Context, lockKey, owner string) {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`
	if err := c.rdb.Eval(ctx, script, []string{lockKey}, owner).Err(); err != nil {
		logger.ErrorF("cache: lock release failed for %s: %v", lockKey, err)
	}
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	encoded := encodeEntry(value, time.Now())
	if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, deleteBatchSize).Result()
		if err != nil {
			return fmt.Errorf("cache: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: delete batch for %s: %w", pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *redisCache) RegisterDependency(changedKeyPrefix string, dependentPatterns ...string) {
	c.deps[changedKeyPrefix] = append(c.deps[changedKeyPrefix], dependentPatterns...)
}

func (c *redisCache) Invalidate(changedKeyPrefix string) {
	patterns, ok := c.deps[changedKeyPrefix]
	if !ok {
		return
	}
	for _, pattern := range patterns {
		go func(p string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Delete(ctx, p); err != nil {
				logger.ErrorF("cache: dependency invalidation of %s failed: %v", p, err)
			}
		}(pattern)
	}
}

func newOwnerTag() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d:%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}

// encodeEntry/decodeEntry prefix the stored bytes with the creation
// timestamp so RemainingFraction can be computed without a second Redis
// round-trip (Redis already enforces the hard TTL expiry; this header
// only drives the refresh-ahead threshold check).
func encodeEntry(value []byte, createdAt time.Time) []byte {
	out := make([]byte, createdAtHdrSize+len(value))
	putUnixSeconds(out[:createdAtHdrSize], createdAt)
	copy(out[createdAtHdrSize:], value)
	return out
}

func decodeEntry(raw []byte, ttl time.Duration) (*model.CacheEntry, error) {
	if len(raw) < createdAtHdrSize {
		return nil, errors.New("cache: corrupt entry")
	}
	createdAt := unixSecondsAt(raw[:createdAtHdrSize])
	return &model.CacheEntry{
		Value:     raw[createdAtHdrSize:],
		TTL:       ttl,
		CreatedAt: createdAt,
	}, nil
}

func putUnixSeconds(b []byte, t time.Time) {
	v := uint64(t.Unix())
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func unixSecondsAt(b []byte) time.Time {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return time.Unix(int64(v), 0)
}
