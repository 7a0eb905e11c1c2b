package redis

import (
	"context"
	"errors"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/jobtype"
)

// Job types are enumerated as a whole rather than by state, so they all
// share a single names Set as their index.
func jobTypeIdx(string) string { return jobTypeNamesKey }

// CreateJobType persists a new job type record.
func (s *Store) CreateJobType(ctx context.Context, jt *jobtype.JobType) error {
	key := jobTypeKey(jt.Name)
	return s.createRecord(ctx, key, jobTypeNamesKey, string(jt.State),
		jt.Version, jt, steward.ErrJobTypeAlreadyExists)
}

// GetJobType retrieves a job type record by name.
func (s *Store) GetJobType(ctx context.Context, name string) (*jobtype.JobType, error) {
	var jt jobtype.JobType
	if err := s.getRecord(ctx, jobTypeKey(name), &jt, steward.ErrJobTypeNotFound); err != nil {
		return nil, err
	}
	return &jt, nil
}

// UpdateJobType persists changes via compare-and-swap on Version.
func (s *Store) UpdateJobType(ctx context.Context, jt *jobtype.JobType) error {
	expected := jt.Version
	jt.Version++
	jt.UpdatedAt = time.Now().UTC()

	key := jobTypeKey(jt.Name)
	_, err := s.casRecord(ctx, key, string(jt.State), expected, jt, jobTypeIdx, steward.ErrJobTypeNotFound)
	if err != nil {
		jt.Version = expected
		return err
	}
	return nil
}

// DeleteJobType removes a job type record. Deleting an absent record is
// a no-op.
func (s *Store) DeleteJobType(ctx context.Context, name string) error {
	return s.deleteRecord(ctx, jobTypeKey(name), jobTypeIdx)
}

// ListJobTypes returns all job type records ordered by name.
func (s *Store) ListJobTypes(ctx context.Context) ([]*jobtype.JobType, error) {
	keys, err := s.listIndex(ctx, jobTypeNamesKey, 0, 0)
	if err != nil {
		return nil, err
	}
	result := make([]*jobtype.JobType, 0, len(keys))
	for _, key := range keys {
		var jt jobtype.JobType
		if err := s.getRecord(ctx, key, &jt, steward.ErrJobTypeNotFound); err != nil {
			if errors.Is(err, steward.ErrJobTypeNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, &jt)
	}
	return result, nil
}
