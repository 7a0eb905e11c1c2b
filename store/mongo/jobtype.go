package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/jobtype"
)

// CreateJobType persists a new job type document.
func (s *Store) CreateJobType(ctx context.Context, jt *jobtype.JobType) error {
	m := toJobTypeModel(jt)
	_, err := s.db.Collection(colJobTypes).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return steward.ErrJobTypeAlreadyExists
		}
		return fmt.Errorf("steward/mongo: create job type: %w", err)
	}
	return nil
}

// GetJobType retrieves a job type document by name.
func (s *Store) GetJobType(ctx context.Context, name string) (*jobtype.JobType, error) {
	var m jobTypeModel
	err := s.db.Collection(colJobTypes).FindOne(ctx, bson.M{"_id": name}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, steward.ErrJobTypeNotFound
		}
		return nil, fmt.Errorf("steward/mongo: get job type: %w", err)
	}
	return fromJobTypeModel(&m), nil
}

// UpdateJobType replaces the document guarded by a version check.
func (s *Store) UpdateJobType(ctx context.Context, jt *jobtype.JobType) error {
	expected := jt.Version
	m := toJobTypeModel(jt)
	m.Version = expected + 1
	m.UpdatedAt = now()

	res, err := s.db.Collection(colJobTypes).ReplaceOne(ctx,
		bson.M{"_id": m.Name, "version": expected}, m)
	if err != nil {
		return fmt.Errorf("steward/mongo: update job type: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.casMiss(ctx, colJobTypes, m.Name, steward.ErrJobTypeNotFound, steward.ErrVersionConflict)
	}
	jt.Version = m.Version
	jt.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteJobType removes a job type document. Deleting an absent document
// is a no-op.
func (s *Store) DeleteJobType(ctx context.Context, name string) error {
	_, err := s.db.Collection(colJobTypes).DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("steward/mongo: delete job type: %w", err)
	}
	return nil
}

// ListJobTypes returns all job type documents ordered by name.
func (s *Store) ListJobTypes(ctx context.Context) ([]*jobtype.JobType, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(colJobTypes).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list job types: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobTypeModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("steward/mongo: list job types decode: %w", err)
	}

	result := make([]*jobtype.JobType, 0, len(models))
	for i := range models {
		result = append(result, fromJobTypeModel(&models[i]))
	}
	return result, nil
}
