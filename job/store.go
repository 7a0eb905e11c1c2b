package job

import (
	"context"

	"github.com/quorumhq/steward/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs. All writes are
// optimistic: UpdateJob must compare the record's persisted Version with
// the Version on the given job and return steward.ErrVersionConflict on
// mismatch, incrementing Version on success.
type Store interface {
	// CreateJob persists a new job. Returns steward.ErrJobAlreadyExists
	// if the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns steward.ErrJobNotFound when
	// absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes via compare-and-swap on Version.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID. Deleting an absent job is a no-op.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs in the given state ordered by ID.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)
}
