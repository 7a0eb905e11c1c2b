package redis

import (
	"context"
	"errors"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
)

// CreateJob persists a new job and indexes it by state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())
	return s.createRecord(ctx, key, jobStateIdx(string(j.State)), string(j.State),
		j.Version, j, steward.ErrJobAlreadyExists)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := s.getRecord(ctx, jobKey(jobID.String()), &j, steward.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJob persists changes via compare-and-swap on Version.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	expected := j.Version
	j.Version++
	j.UpdatedAt = time.Now().UTC()

	key := jobKey(j.ID.String())
	_, err := s.casRecord(ctx, key, string(j.State), expected, j, jobStateIdx, steward.ErrJobNotFound)
	if err != nil {
		j.Version = expected
		return err
	}
	return nil
}

// DeleteJob removes a job by ID. Deleting an absent job is a no-op.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return s.deleteRecord(ctx, jobKey(jobID.String()), jobStateIdx)
}

// ListJobsByState returns jobs in the given state ordered by ID.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	keys, err := s.listIndex(ctx, jobStateIdx(string(state)), opts.Offset, opts.Limit)
	if err != nil {
		return nil, err
	}
	result := make([]*job.Job, 0, len(keys))
	for _, key := range keys {
		var j job.Job
		if err := s.getRecord(ctx, key, &j, steward.ErrJobNotFound); err != nil {
			// The record vanished between the index read and the fetch.
			if errors.Is(err, steward.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, &j)
	}
	return result, nil
}
