// Package cache keeps per-user todo listings and stats in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-api/internal/domain"
)

const (
	keyPrefix = "todos:user:"
	fieldStat = "stats"

	// versionTTL bounds how long an idle user's version counter is kept.
	versionTTL = 24 * time.Hour
)

// setIfVersion writes a hash field only while the user's version counter still
// matches the one read before the store load. A missing counter reads as 0.
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[2])
if (v or '0') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`)

// TodoCache stores every cached view of one user's todos as fields of a single
// hash, so a write invalidates them all with one DEL. Each user also has a
// version counter that Invalidate bumps; a fill loaded before a write carries
// the old version and is dropped.
type TodoCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTodoCache(rdb *redis.Client, ttl time.Duration) *TodoCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TodoCache{rdb: rdb, ttl: ttl}
}

// NewClient parses a redis:// URL and checks the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// GetList returns the cached listing for view, or false on a miss.
func (c *TodoCache) GetList(ctx context.Context, userID int64, view string) ([]domain.Todo, bool, error) {
	b, err := c.rdb.HGet(ctx, userKey(userID), "list:"+view).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var list []domain.Todo
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, false, err
	}
	return list, true, nil
}

// SetList caches list for view unless the user was invalidated after version
// was read.
func (c *TodoCache) SetList(ctx context.Context, userID int64, view string, version int64, list []domain.Todo) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.set(ctx, userID, "list:"+view, version, b)
}

func (c *TodoCache) GetStats(ctx context.Context, userID int64) (domain.TodoStats, bool, error) {
	b, err := c.rdb.HGet(ctx, userKey(userID), fieldStat).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TodoStats{}, false, nil
	}
	if err != nil {
		return domain.TodoStats{}, false, err
	}
	var stats domain.TodoStats
	if err := json.Unmarshal(b, &stats); err != nil {
		return domain.TodoStats{}, false, err
	}
	return stats, true, nil
}

func (c *TodoCache) SetStats(ctx context.Context, userID int64, version int64, stats domain.TodoStats) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.set(ctx, userID, fieldStat, version, b)
}

// Version returns the user's current version counter. Read it before loading
// from the store and hand it to SetList or SetStats.
func (c *TodoCache) Version(ctx context.Context, userID int64) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Invalidate drops every cached view for the user and bumps the version so
// fills already in flight are discarded.
func (c *TodoCache) Invalidate(ctx context.Context, userID int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, versionKey(userID))
	pipe.Expire(ctx, versionKey(userID), versionTTL)
	pipe.Del(ctx, userKey(userID))
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the Redis client.
func (c *TodoCache) Close() error {
	return c.rdb.Close()
}

func (c *TodoCache) set(ctx context.Context, userID int64, field string, version int64, value []byte) error {
	ttl := int64(c.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	keys := []string{userKey(userID), versionKey(userID)}
	return setIfVersion.Run(ctx, c.rdb, keys, version, field, value, ttl).Err()
}

func userKey(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

func versionKey(userID int64) string {
	return userKey(userID) + ":version"
}
