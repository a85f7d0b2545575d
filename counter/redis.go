package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisHashKey is the hash that holds all counters
const DefaultRedisHashKey = "hitcounter:hits"

// RedisOptions configures DialRedis
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	HashKey  string
}

// RedisStore keeps every counter as a field of a single Redis hash and
// relies on HINCRBY for atomicity.
type RedisStore struct {
	client  redis.UniversalClient
	hashKey string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient, hashKey string) *RedisStore {
	if hashKey == "" {
		hashKey = DefaultRedisHashKey
	}
	return &RedisStore{
		client:  client,
		hashKey: hashKey,
	}
}

// clientOptions disables go-redis command retries; Retrying is the only
// retry bound for HINCRBY
func (opts RedisOptions) clientOptions() *redis.Options {
	return &redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   -1,
	}
}

// DialRedis connects to Redis and verifies the connection
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(opts.clientOptions())

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStore(client, opts.HashKey), nil
}

func (r *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	n, err := r.client.HIncrBy(ctx, r.hashKey, key, 1).Result()
	if err != nil {
		return 0, classifyRedis("increment", key, err)
	}
	return n, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrEmptyKey
	}
	n, err := r.client.HGet(ctx, r.hashKey, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classifyRedis("get", key, err)
	}
	return n, true, nil
}

// List returns all counters in the hash ordered by key
func (r *RedisStore) List(ctx context.Context) ([]Record, error) {
	raw, err := r.client.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		return nil, classifyRedis("list", "", err)
	}

	records := make([]Record, 0, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse counter %q: %w", k, err)
		}
		records = append(records, Record{Key: k, Count: n})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// Close releases the underlying client
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// classifyRedis maps server replies and transport failures onto store kinds.
// Replies that indicate a bad command (WRONGTYPE, ERR ...) are returned as is.
func classifyRedis(op, key string, err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		switch {
		case strings.HasPrefix(msg, "OOM"), strings.HasPrefix(msg, "BUSY"):
			return throttled(op, key, err)
		case strings.HasPrefix(msg, "LOADING"),
			strings.HasPrefix(msg, "MASTERDOWN"),
			strings.HasPrefix(msg, "TRYAGAIN"),
			strings.HasPrefix(msg, "CLUSTERDOWN"),
			strings.HasPrefix(msg, "READONLY"):
			return unavailable(op, key, err)
		default:
			return fmt.Errorf("redis %s %q: %w", op, key, err)
		}
	}
	return unavailable(op, key, err)
}
