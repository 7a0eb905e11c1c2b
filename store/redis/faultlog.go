package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
)

// Fault entries are append-mostly, so they skip the versioned-hash
// machinery: each entry is a plain JSON string keyed by ID, and a Sorted
// Set scored by FailedAt provides newest-first listing and purge-by-age.

// PushFault appends a fault entry to the log.
func (s *Store) PushFault(ctx context.Context, e *faultlog.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("steward/redis: marshal fault: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, faultKey(e.ID.String()), data, 0)
	pipe.ZAdd(ctx, faultIDsKey, goredis.Z{
		Score:  float64(e.FailedAt.Unix()),
		Member: e.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("steward/redis: push fault: %w", err)
	}
	return nil
}

// GetFault retrieves a fault entry by ID.
func (s *Store) GetFault(ctx context.Context, faultID id.FaultID) (*faultlog.Entry, error) {
	data, err := s.client.Get(ctx, faultKey(faultID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, steward.ErrFaultNotFound
		}
		return nil, fmt.Errorf("steward/redis: get fault: %w", err)
	}
	var e faultlog.Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("steward/redis: decode fault: %w", err)
	}
	return &e, nil
}

// ListFaults returns fault entries newest first, optionally filtered by
// job type.
func (s *Store) ListFaults(ctx context.Context, opts faultlog.ListOpts) ([]*faultlog.Entry, error) {
	var (
		ids []string
		err error
	)
	if opts.JobType == "" {
		start, stop := int64(opts.Offset), int64(-1)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
		ids, err = s.client.ZRevRange(ctx, faultIDsKey, start, stop).Result()
	} else {
		// The filter cannot be pushed into Redis, so paginate after
		// filtering the full set.
		ids, err = s.client.ZRevRange(ctx, faultIDsKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("steward/redis: list faults: %w", err)
	}

	result := make([]*faultlog.Entry, 0, len(ids))
	for _, fid := range ids {
		parsed, err := id.ParseFaultID(fid)
		if err != nil {
			continue
		}
		e, err := s.GetFault(ctx, parsed)
		if err != nil {
			if errors.Is(err, steward.ErrFaultNotFound) {
				continue
			}
			return nil, err
		}
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		result = append(result, e)
	}

	if opts.JobType != "" {
		if opts.Offset > 0 {
			if opts.Offset >= len(result) {
				return nil, nil
			}
			result = result[opts.Offset:]
		}
		if opts.Limit > 0 && len(result) > opts.Limit {
			result = result[:opts.Limit]
		}
	}
	return result, nil
}

// MarkFaultReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkFaultReplayed(ctx context.Context, faultID id.FaultID) error {
	e, err := s.GetFault(ctx, faultID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("steward/redis: marshal fault: %w", err)
	}
	if err := s.client.Set(ctx, faultKey(faultID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("steward/redis: mark fault replayed: %w", err)
	}
	return nil
}

// PurgeFaults removes entries that failed before the cutoff and returns
// how many were removed.
func (s *Store) PurgeFaults(ctx context.Context, before time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(before.Unix(), 10)
	ids, err := s.client.ZRangeByScore(ctx, faultIDsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("steward/redis: purge faults: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, fid := range ids {
		pipe.Del(ctx, faultKey(fid))
		pipe.ZRem(ctx, faultIDsKey, fid)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("steward/redis: purge faults: %w", err)
	}
	return int64(len(ids)), nil
}

// CountFaults returns the number of entries in the log.
func (s *Store) CountFaults(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, faultIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("steward/redis: count faults: %w", err)
	}
	return n, nil
}
