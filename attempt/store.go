package attempt

import (
	"context"

	"github.com/quorumhq/steward/id"
)

// ListOpts controls pagination for attempt list queries.
type ListOpts struct {
	// Limit is the maximum number of attempts to return. Zero means no limit.
	Limit int
	// Offset is the number of attempts to skip.
	Offset int
}

// Store defines the persistence contract for attempts. UpdateAttempt is a
// compare-and-swap on Version, returning steward.ErrVersionConflict on
// mismatch.
type Store interface {
	// CreateAttempt persists a new attempt. Returns
	// steward.ErrAttemptAlreadyExists if the ID is taken.
	CreateAttempt(ctx context.Context, a *Attempt) error

	// GetAttempt retrieves an attempt by ID. Returns
	// steward.ErrAttemptNotFound when absent.
	GetAttempt(ctx context.Context, attemptID id.AttemptID) (*Attempt, error)

	// UpdateAttempt persists changes via compare-and-swap on Version.
	UpdateAttempt(ctx context.Context, a *Attempt) error

	// DeleteAttempt removes an attempt by ID. Deleting an absent attempt
	// is a no-op.
	DeleteAttempt(ctx context.Context, attemptID id.AttemptID) error

	// ListAttemptsByState returns attempts in the given state ordered by ID.
	ListAttemptsByState(ctx context.Context, state State, opts ListOpts) ([]*Attempt, error)
}
