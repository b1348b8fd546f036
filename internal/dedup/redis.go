package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the store needs.
type redisClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetSet(ctx context.Context, key string, value interface{}) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares dedup state between processes through Redis. Keys never
// expire unless a TTL is configured for news ids.
type RedisStore struct {
	client  redisClient
	prefix  string
	seenTTL time.Duration
}

// RedisOptions parameterise the Redis store.
type RedisOptions struct {
	Prefix  string
	SeenTTL time.Duration
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redisClient, opts RedisOptions) *RedisStore {
	prefix := strings.TrimSuffix(opts.Prefix, ":")
	if prefix == "" {
		prefix = "marketalerts"
	}
	return &RedisStore{client: client, prefix: prefix, seenTTL: opts.SeenTTL}
}

// Connect parses a redis:// URL or host:port and pings the server.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) seenKey(id string) string {
	return r.prefix + ":seen:" + id
}

func (r *RedisStore) tierKey(instrumentID string) string {
	return r.prefix + ":tier:" + instrumentID
}

func (r *RedisStore) HasSeen(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.seenKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) MarkSeen(ctx context.Context, id string) error {
	if err := r.client.Set(ctx, r.seenKey(id), 1, r.seenTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) MarkIfUnseen(ctx context.Context, id string) (bool, error) {
	inserted, err := r.client.SetNX(ctx, r.seenKey(id), 1, r.seenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return inserted, nil
}

func (r *RedisStore) CurrentTier(ctx context.Context, instrumentID string) (string, bool, error) {
	tier, err := r.client.Get(ctx, r.tierKey(instrumentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return tier, true, nil
}

func (r *RedisStore) SetTier(ctx context.Context, instrumentID, tier string) error {
	if tier == "" {
		if err := r.client.Del(ctx, r.tierKey(instrumentID)).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	}
	if err := r.client.Set(ctx, r.tierKey(instrumentID), tier, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SwapTier uses GETSET, and GETDEL to clear (Redis 6.2+), so racing
// processes observe distinct previous values.
func (r *RedisStore) SwapTier(ctx context.Context, instrumentID, tier string) (string, error) {
	key := r.tierKey(instrumentID)
	if tier == "" {
		prev, err := r.client.GetDel(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("redis getdel: %w", err)
		}
		return prev, nil
	}

	prev, err := r.client.GetSet(ctx, key, tier).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis getset: %w", err)
	}
	return prev, nil
}

var _ Store = (*RedisStore)(nil)
