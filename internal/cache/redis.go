package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "pcrdesign:cache:"

// Redis stores each entry as a hash at pcrdesign:cache:{key}, with the same
// fields as the sqlite table. A set at pcrdesign:cache:keys tracks the stored keys
type Redis struct {
	rdb *redis.Client
}

var _ Store = (*Redis)(nil)

// OpenRedis connects to the redis server at addr
func OpenRedis(addr string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr})), nil
}

// NewRedis wraps an existing client
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Close closes the redis connection
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func entryKey(key string) string {
	return redisPrefix + key
}

// Lookup returns the entry at key or nil if it isn't stored
func (r *Redis) Lookup(ctx context.Context, key string) (*Entry, error) {
	fields, err := r.rdb.HGetAll(ctx, entryKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached result %s: %w", key, err)
	}
	if len(fields) == 0 || fields["date"] == "" {
		return nil, nil // missing, or claimed but not written yet
	}

	submitted, err := time.Parse(time.RFC3339Nano, fields["date"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse date of cached entry %s: %w", key, err)
	}

	return &Entry{
		Key:        key,
		Sequence:   fields["sequence"],
		Parameters: fields["parameters"],
		Submitted:  submitted,
		Status:     fields["status"],
		Stdout:     fields["stdout"],
		Stderr:     fields["stderr"],
	}, nil
}

// Store writes the entry unless one with the same key exists. The first
// writer claims the key with HSETNX on the id field
func (r *Redis) Store(ctx context.Context, e *Entry) error {
	k := entryKey(e.Key)

	claimed, err := r.rdb.HSetNX(ctx, k, "id", e.Key).Result()
	if err != nil {
		return fmt.Errorf("failed to store cached result %s: %w", e.Key, err)
	}
	if !claimed {
		return nil
	}

	params := e.Parameters
	if params == "" {
		params = "0000"
	}
	status := e.Status
	if status == "" {
		status = StatusFinished
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			"sequence", e.Sequence,
			"parameters", params,
			"date", e.Submitted.UTC().Format(time.RFC3339Nano),
			"status", status,
			"stdout", e.Stdout,
			"stderr", e.Stderr,
		)
		pipe.SAdd(ctx, redisPrefix+"keys", e.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store cached result %s: %w", e.Key, err)
	}
	return nil
}

// Len returns the number of stored entries
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.SCard(ctx, redisPrefix+"keys").Result()
	return int(n), err
}
