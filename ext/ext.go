package ext

import (
	"context"
	"time"

	"github.com/quorumhq/steward/id"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a submission is durably recorded.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, jobID id.JobID, jobType string) error
}

// JobWaiting is called when a job enters the slot wait queue.
type JobWaiting interface {
	OnJobWaiting(ctx context.Context, jobID id.JobID, jobType string) error
}

// SlotGranted is called when the allocator reserves a slot for a job.
type SlotGranted interface {
	OnSlotGranted(ctx context.Context, jobID id.JobID, jobType, serviceAddress string) error
}

// AttemptStarted is called when a worker begins executing an attempt.
type AttemptStarted interface {
	OnAttemptStarted(ctx context.Context, jobID id.JobID, attemptID id.AttemptID, retryAttempt int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, jobID id.JobID, jobType string, elapsed time.Duration) error
}

// JobRetrying is called when an attempt faults and a retry is scheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, jobID id.JobID, attempt int, delay time.Duration) error
}

// JobSuspect is called when an attempt's liveness cannot be confirmed.
type JobSuspect interface {
	OnJobSuspect(ctx context.Context, jobID id.JobID, attemptID id.AttemptID) error
}

// JobFaulted is called when a job fails terminally (no more retries).
type JobFaulted interface {
	OnJobFaulted(ctx context.Context, jobID id.JobID, jobType, reason string) error
}

// JobCanceled is called when a job is canceled.
type JobCanceled interface {
	OnJobCanceled(ctx context.Context, jobID id.JobID) error
}

// JobRescheduled is called when a recurring job is queued for its next run.
type JobRescheduled interface {
	OnJobRescheduled(ctx context.Context, jobID id.JobID, next time.Time) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
