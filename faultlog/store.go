package faultlog

import (
	"context"
	"time"

	"github.com/quorumhq/steward/id"
)

// ListOpts controls pagination and filtering for fault log list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// JobType filters by job type. Empty means all types.
	JobType string
}

// Store defines the persistence contract for the fault log.
type Store interface {
	// PushFault adds a faulted job entry to the fault log.
	PushFault(ctx context.Context, entry *Entry) error

	// ListFaults returns fault entries matching the given options,
	// newest first.
	ListFaults(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetFault retrieves a fault entry by ID. Returns
	// steward.ErrFaultNotFound when absent.
	GetFault(ctx context.Context, entryID id.FaultID) (*Entry, error)

	// MarkFaultReplayed stamps ReplayedAt on an entry. The actual
	// re-submission is handled at the service layer.
	MarkFaultReplayed(ctx context.Context, entryID id.FaultID) error

	// PurgeFaults removes entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeFaults(ctx context.Context, before time.Time) (int64, error)

	// CountFaults returns the total number of entries in the fault log.
	CountFaults(ctx context.Context) (int64, error)
}
