package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"workflow_tracker/internal/fragment"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "tracker:"
	updatedField = "@updated"
	maxTxRetries = 10
	scanCount    = 100
)

// RedisStore keeps each session as a Redis hash so several instances can
// share one tracker. Fields are fragment kinds plus updatedField.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL environment variable is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewRedisStore creates a store for one tracker. Keys live under
// "tracker:{name}:session:".
func NewRedisStore(client *redis.Client, name string, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: keyPrefix + name + ":session:",
		opts:   opts.withDefaults(),
	}
}

// key generates a Redis key for the given session ID
func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// Merge writes the fragment and the update time in one transaction and
// refreshes the key TTL so Redis drops abandoned sessions on its own.
func (r *RedisStore) Merge(ctx context.Context, sessionID string, kind fragment.Kind, payload []byte) error {
	if err := checkMerge(sessionID, kind); err != nil {
		return err
	}
	key := r.key(sessionID)
	now := r.opts.Clock()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, string(kind), payload, updatedField, now.UnixNano())
		pipe.Expire(ctx, key, r.opts.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge fragment: %w", err)
	}
	return nil
}

// Status reads the hash under WATCH so a DeliverOnce delete only succeeds if
// nobody touched the session in between. Conflicting readers retry and then
// see StateNotFound.
func (r *RedisStore) Status(ctx context.Context, sessionID string) (Status, error) {
	if sessionID == "" {
		return Status{}, ErrMissingSessionID
	}
	key := r.key(sessionID)

	for i := 0; i < maxTxRetries; i++ {
		var st Status
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			set, updated, ok := decodeHash(fields)
			if !ok {
				st = Status{State: StateNotFound}
				return nil
			}

			if r.opts.Clock().Sub(updated) > r.opts.TTL {
				st = Status{State: StateNotFound}
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			held := set.Kinds()
			if !r.opts.Predicate(held) {
				st = Status{State: StatePartial, Held: held}
				return nil
			}

			st = Status{State: StateComplete, Held: held, Payload: set}
			if r.opts.Delivery != DeliverOnce {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Status{}, fmt.Errorf("failed to get session status: %w", err)
		}
		return st, nil
	}
	return Status{}, fmt.Errorf("failed to get session status: %w", redis.TxFailedErr)
}

func decodeHash(fields map[string]string) (fragment.Set, time.Time, bool) {
	raw, ok := fields[updatedField]
	if !ok {
		return nil, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, time.Time{}, false
	}
	set := make(fragment.Set, len(fields)-1)
	for k, v := range fields {
		if k == updatedField {
			continue
		}
		set[fragment.Kind(k)] = []byte(v)
	}
	return set, time.Unix(0, nanos), true
}

// ExpireStale scans this tracker's keys and removes sessions older than ttl.
// Redis key TTLs normally get there first; this catches sessions written with
// a longer TTL than the one now configured.
func (r *RedisStore) ExpireStale(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGet(ctx, key, updatedField).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			nanos, err := strconv.ParseInt(raw, 10, 64)
			if err == nil && now.Sub(time.Unix(0, nanos)) <= ttl {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, key)
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return removed, fmt.Errorf("failed to expire %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return removed, nil
}

// Delete removes session from Redis
func (r *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrMissingSessionID
	}
	count, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return count > 0, nil
}

// GetTTL gets remaining TTL for a session
func (r *RedisStore) GetTTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.key(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get TTL: %w", err)
	}
	return ttl, nil
}

// Ping tests Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close is a no-op: the client is shared between trackers and closed by its
// owner.
func (r *RedisStore) Close() error {
	return nil
}
