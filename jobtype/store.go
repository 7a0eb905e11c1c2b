package jobtype

import "context"

// Store defines the persistence contract for job type records.
// UpdateJobType is a compare-and-swap on Version, returning
// steward.ErrVersionConflict on mismatch.
type Store interface {
	// CreateJobType persists a new job type record. Returns
	// steward.ErrJobTypeAlreadyExists if the name is taken.
	CreateJobType(ctx context.Context, jt *JobType) error

	// GetJobType retrieves a job type by name. Returns
	// steward.ErrJobTypeNotFound when absent.
	GetJobType(ctx context.Context, name string) (*JobType, error)

	// UpdateJobType persists changes via compare-and-swap on Version.
	UpdateJobType(ctx context.Context, jt *JobType) error

	// DeleteJobType removes a job type record by name. Deleting an
	// absent record is a no-op.
	DeleteJobType(ctx context.Context, name string) error

	// ListJobTypes returns all job type records ordered by name.
	ListJobTypes(ctx context.Context) ([]*JobType, error)
}
