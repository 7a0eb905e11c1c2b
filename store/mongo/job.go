package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
)

// CreateJob persists a new job document.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.Collection(colJobs).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return steward.ErrJobAlreadyExists
		}
		return fmt.Errorf("steward/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, steward.ErrJobNotFound
		}
		return nil, fmt.Errorf("steward/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob replaces the document guarded by a version check.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	expected := j.Version
	m := toJobModel(j)
	m.Version = expected + 1
	m.UpdatedAt = now()

	res, err := s.db.Collection(colJobs).ReplaceOne(ctx,
		bson.M{"_id": m.ID, "version": expected}, m)
	if err != nil {
		return fmt.Errorf("steward/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.casMiss(ctx, colJobs, m.ID, steward.ErrJobNotFound, steward.ErrVersionConflict)
	}
	j.Version = m.Version
	j.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteJob removes a job by ID. Deleting an absent job is a no-op.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	_, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("steward/mongo: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, bson.M{"state": string(state)}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list jobs by state: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("steward/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steward/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
