package steward

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("steward: no store configured")
	ErrStoreClosed     = errors.New("steward: store closed")
	ErrMigrationFailed = errors.New("steward: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("steward: job not found")
	ErrAttemptNotFound = errors.New("steward: job attempt not found")
	ErrJobTypeNotFound = errors.New("steward: job type not found")
	ErrFaultNotFound   = errors.New("steward: fault entry not found")

	// Conflict errors.
	ErrJobAlreadyExists     = errors.New("steward: job already exists")
	ErrAttemptAlreadyExists = errors.New("steward: job attempt already exists")
	ErrJobTypeAlreadyExists = errors.New("steward: job type already exists")

	// Optimistic concurrency errors. Stores return ErrVersionConflict when
	// the record version does not match; the engine reloads and reapplies a
	// bounded number of times before surfacing ErrContention.
	ErrVersionConflict = errors.New("steward: version conflict")
	ErrContention      = errors.New("steward: contention retries exhausted")

	// Submission errors.
	ErrInvalidSubmission = errors.New("steward: invalid job submission")

	// Wiring errors.
	ErrNoBus       = errors.New("steward: no bus configured")
	ErrNoScheduler = errors.New("steward: no timer scheduler configured")
)
