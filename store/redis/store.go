// Package redis implements store.Store using Redis for high-throughput
// ephemeral workloads. Every record is a Redis Hash holding a version
// counter, the current state, and the JSON-encoded entity; optimistic
// writes go through a Lua compare-and-swap on the version field.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/jobtype"
)

// Compile-time interface checks.
var (
	_ job.Store      = (*Store)(nil)
	_ attempt.Store  = (*Store)(nil)
	_ jobtype.Store  = (*Store)(nil)
	_ faultlog.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Versioned record helpers
// ──────────────────────────────────────────────────

// createScript creates the record hash only if absent.
// KEYS[1] record key; ARGV: version, data, state.
// Returns 1 on create, 0 when the key already exists.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2], 'state', ARGV[3])
return 1
`)

// casScript swaps the record body if the version matches.
// KEYS[1] record key; ARGV: expected version, data, state.
// Returns -1 when absent, 0 on version conflict, or
// {new_version, old_state} on success.
var casScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local ver = tonumber(redis.call('HGET', KEYS[1], 'version'))
if ver ~= tonumber(ARGV[1]) then
  return 0
end
local old = redis.call('HGET', KEYS[1], 'state')
redis.call('HSET', KEYS[1], 'version', ver + 1, 'data', ARGV[2], 'state', ARGV[3])
return {ver + 1, old}
`)

// createRecord stores a new versioned record and indexes it by state.
func (s *Store) createRecord(ctx context.Context, key, stateIdx, state string, version int64, entity any, existsErr error) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("steward/redis: marshal record: %w", err)
	}
	created, err := createScript.Run(ctx, s.client, []string{key}, version, data, state).Int()
	if err != nil {
		return fmt.Errorf("steward/redis: create record: %w", err)
	}
	if created == 0 {
		return existsErr
	}
	if err := s.client.SAdd(ctx, stateIdx, key).Err(); err != nil {
		return fmt.Errorf("steward/redis: index record: %w", err)
	}
	return nil
}

// casRecord swaps a versioned record, moving its state index membership.
// idxFor maps a state string to its index key. Returns the new version.
func (s *Store) casRecord(ctx context.Context, key, state string, version int64, entity any, idxFor func(string) string, notFoundErr error) (int64, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return 0, fmt.Errorf("steward/redis: marshal record: %w", err)
	}
	res, err := casScript.Run(ctx, s.client, []string{key}, version, data, state).Result()
	if err != nil {
		return 0, fmt.Errorf("steward/redis: cas record: %w", err)
	}
	switch v := res.(type) {
	case int64:
		if v == -1 {
			return 0, notFoundErr
		}
		return 0, steward.ErrVersionConflict
	case []any:
		newVersion, _ := v[0].(int64)
		oldState, _ := v[1].(string)
		if oldState != state {
			if err := s.client.SMove(ctx, idxFor(oldState), idxFor(state), key).Err(); err != nil {
				return 0, fmt.Errorf("steward/redis: move state index: %w", err)
			}
		}
		return newVersion, nil
	default:
		return 0, fmt.Errorf("steward/redis: unexpected cas reply %T", res)
	}
}

// getRecord loads and decodes the JSON body of a record hash.
func (s *Store) getRecord(ctx context.Context, key string, out any, notFoundErr error) error {
	data, err := s.client.HGet(ctx, key, "data").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return notFoundErr
		}
		return fmt.Errorf("steward/redis: get record: %w", err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("steward/redis: decode record: %w", err)
	}
	return nil
}

// deleteRecord removes a record and its index membership. Absent records
// are a no-op.
func (s *Store) deleteRecord(ctx context.Context, key string, idxFor func(string) string) error {
	state, err := s.client.HGet(ctx, key, "state").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("steward/redis: delete record get state: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, idxFor(state), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("steward/redis: delete record: %w", err)
	}
	return nil
}

// listIndex returns the sorted, paginated member keys of a state index.
func (s *Store) listIndex(ctx context.Context, idx string, offset, limit int) ([]string, error) {
	keys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("steward/redis: list index: %w", err)
	}
	sort.Strings(keys)
	if offset > 0 {
		if offset >= len(keys) {
			return nil, nil
		}
		keys = keys[offset:]
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}
