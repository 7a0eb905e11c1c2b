package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/id"
)

// CreateAttempt persists a new attempt record.
func (s *Store) CreateAttempt(ctx context.Context, a *attempt.Attempt) error {
	m := toAttemptModel(a)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return steward.ErrAttemptAlreadyExists
		}
		return fmt.Errorf("steward/postgres: create attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	m := new(attemptModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", attemptID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, steward.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("steward/postgres: get attempt: %w", err)
	}
	return fromAttemptModel(m)
}

// UpdateAttempt persists changes guarded by a version check.
func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	expected := a.Version
	m := toAttemptModel(a)
	m.Version = expected + 1
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: update attempt: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.casMiss(ctx, "steward_attempts", "id", a.ID.String(), steward.ErrAttemptNotFound)
	}
	a.Version = m.Version
	a.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteAttempt removes an attempt by ID. Deleting an absent attempt is
// a no-op.
func (s *Store) DeleteAttempt(ctx context.Context, attemptID id.AttemptID) error {
	_, err := s.db.NewDelete().
		TableExpr("steward_attempts").
		Where("id = ?", attemptID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: delete attempt: %w", err)
	}
	return nil
}

// ListAttemptsByState returns attempts matching the given state.
func (s *Store) ListAttemptsByState(ctx context.Context, state attempt.State, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	var models []attemptModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state)).
		Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("steward/postgres: list attempts by state: %w", err)
	}

	attempts := make([]*attempt.Attempt, 0, len(models))
	for i := range models {
		a, convErr := fromAttemptModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steward/postgres: list attempts convert: %w", convErr)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
