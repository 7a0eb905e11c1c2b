package redis

import (
	"context"
	"errors"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/id"
)

// CreateAttempt persists a new attempt and indexes it by state.
func (s *Store) CreateAttempt(ctx context.Context, a *attempt.Attempt) error {
	key := attemptKey(a.ID.String())
	return s.createRecord(ctx, key, attemptStateIdx(string(a.State)), string(a.State),
		a.Version, a, steward.ErrAttemptAlreadyExists)
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	var a attempt.Attempt
	if err := s.getRecord(ctx, attemptKey(attemptID.String()), &a, steward.ErrAttemptNotFound); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAttempt persists changes via compare-and-swap on Version.
func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	expected := a.Version
	a.Version++
	a.UpdatedAt = time.Now().UTC()

	key := attemptKey(a.ID.String())
	_, err := s.casRecord(ctx, key, string(a.State), expected, a, attemptStateIdx, steward.ErrAttemptNotFound)
	if err != nil {
		a.Version = expected
		return err
	}
	return nil
}

// DeleteAttempt removes an attempt by ID. Deleting an absent attempt is
// a no-op.
func (s *Store) DeleteAttempt(ctx context.Context, attemptID id.AttemptID) error {
	return s.deleteRecord(ctx, attemptKey(attemptID.String()), attemptStateIdx)
}

// ListAttemptsByState returns attempts in the given state ordered by ID.
func (s *Store) ListAttemptsByState(ctx context.Context, state attempt.State, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	keys, err := s.listIndex(ctx, attemptStateIdx(string(state)), opts.Offset, opts.Limit)
	if err != nil {
		return nil, err
	}
	result := make([]*attempt.Attempt, 0, len(keys))
	for _, key := range keys {
		var a attempt.Attempt
		if err := s.getRecord(ctx, key, &a, steward.ErrAttemptNotFound); err != nil {
			if errors.Is(err, steward.ErrAttemptNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, &a)
	}
	return result, nil
}
