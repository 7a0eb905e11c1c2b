package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/id"
)

// CreateAttempt persists a new attempt document.
func (s *Store) CreateAttempt(ctx context.Context, a *attempt.Attempt) error {
	m := toAttemptModel(a)
	_, err := s.db.Collection(colAttempts).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return steward.ErrAttemptAlreadyExists
		}
		return fmt.Errorf("steward/mongo: create attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	var m attemptModel
	err := s.db.Collection(colAttempts).FindOne(ctx, bson.M{"_id": attemptID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, steward.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("steward/mongo: get attempt: %w", err)
	}
	return fromAttemptModel(&m)
}

// UpdateAttempt replaces the document guarded by a version check.
func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	expected := a.Version
	m := toAttemptModel(a)
	m.Version = expected + 1
	m.UpdatedAt = now()

	res, err := s.db.Collection(colAttempts).ReplaceOne(ctx,
		bson.M{"_id": m.ID, "version": expected}, m)
	if err != nil {
		return fmt.Errorf("steward/mongo: update attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.casMiss(ctx, colAttempts, m.ID, steward.ErrAttemptNotFound, steward.ErrVersionConflict)
	}
	a.Version = m.Version
	a.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteAttempt removes an attempt by ID. Deleting an absent attempt is
// a no-op.
func (s *Store) DeleteAttempt(ctx context.Context, attemptID id.AttemptID) error {
	_, err := s.db.Collection(colAttempts).DeleteOne(ctx, bson.M{"_id": attemptID.String()})
	if err != nil {
		return fmt.Errorf("steward/mongo: delete attempt: %w", err)
	}
	return nil
}

// ListAttemptsByState returns attempts matching the given state.
func (s *Store) ListAttemptsByState(ctx context.Context, state attempt.State, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colAttempts).Find(ctx, bson.M{"state": string(state)}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list attempts by state: %w", err)
	}
	defer cursor.Close(ctx)

	var models []attemptModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("steward/mongo: list attempts decode: %w", err)
	}

	attempts := make([]*attempt.Attempt, 0, len(models))
	for i := range models {
		a, convErr := fromAttemptModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steward/mongo: list attempts convert: %w", convErr)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
