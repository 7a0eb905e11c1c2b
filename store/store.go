// Package store defines the aggregate persistence interface. Each
// subsystem (job, attempt, jobtype, faultlog) defines its own store
// interface; the composite Store composes them all. Backends: Postgres,
// Redis, MongoDB, and Memory.
package store

import (
	"context"

	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/jobtype"
)

// Store is the aggregate persistence interface. A single backend
// implements all of the subsystem contracts, so the engine can hand each
// state machine its slice of the same store.
type Store interface {
	job.Store
	attempt.Store
	jobtype.Store
	faultlog.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
