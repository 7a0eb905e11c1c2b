// Package contract defines the message types exchanged between the
// orchestration state machines, the slot allocator, and worker agents.
//
// Every coordination step in Steward is a message on the bus: commands
// flowing toward a machine, events flowing away from it, and timer-expiry
// notifications delivered by the timer service. Messages are plain structs;
// delivery is at-least-once, so every handler tolerates duplicates.
package contract

import (
	"time"

	"github.com/quorumhq/steward/id"
)

// ──────────────────────────────────────────────────
// Submission and job lifecycle
// ──────────────────────────────────────────────────

// SubmitJob requests orchestration of a new job. JobID is assigned by the
// submitter so that redelivered submissions are deduplicated.
type SubmitJob struct {
	JobID          id.JobID       `json:"job_id"`
	JobType        string         `json:"job_type"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	JobTimeout     time.Duration  `json:"job_timeout,omitempty"`
	StartDate      *time.Time     `json:"start_date,omitempty"`
	CronExpression string         `json:"cron_expression,omitempty"`
	TimeZoneID     string         `json:"time_zone_id,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
}

// JobSubmissionAccepted acknowledges that a submission was durably recorded.
type JobSubmissionAccepted struct {
	JobID id.JobID `json:"job_id"`
}

// CancelJob requests cancellation of a job in any non-terminal state.
type CancelJob struct {
	JobID id.JobID `json:"job_id"`
}

// ──────────────────────────────────────────────────
// Slot allocation
// ──────────────────────────────────────────────────

// AllocateJobSlot asks the job type allocator for a concurrency slot.
type AllocateJobSlot struct {
	JobType string   `json:"job_type"`
	JobID   id.JobID `json:"job_id"`
}

// JobSlotResponse answers an allocation request. When Granted is true,
// ServiceAddress names the worker instance the slot was reserved against.
type JobSlotResponse struct {
	JobID          id.JobID `json:"job_id"`
	JobType        string   `json:"job_type"`
	Granted        bool     `json:"granted"`
	ServiceAddress string   `json:"service_address,omitempty"`
}

// ReleaseJobSlot returns a previously granted slot to the allocator.
type ReleaseJobSlot struct {
	JobType string   `json:"job_type"`
	JobID   id.JobID `json:"job_id"`
}

// JobSlotAvailable hints a waiting job that capacity may have freed up.
// It is best-effort: the job re-requests and may still be told busy.
type JobSlotAvailable struct {
	JobType string   `json:"job_type"`
	JobID   id.JobID `json:"job_id"`
}

// ReleaseAttemptReservation tells the allocator that a finished attempt no
// longer occupies capacity on its worker instance. This is instance-level
// bookkeeping, separate from the job-level slot released by ReleaseJobSlot.
type ReleaseAttemptReservation struct {
	JobType        string       `json:"job_type"`
	ServiceAddress string       `json:"service_address"`
	AttemptID      id.AttemptID `json:"attempt_id"`
}

// ──────────────────────────────────────────────────
// Attempt lifecycle
// ──────────────────────────────────────────────────

// StartJobAttempt instructs the attempt tracker to begin a new execution
// attempt on the given worker instance.
type StartJobAttempt struct {
	AttemptID      id.AttemptID   `json:"attempt_id"`
	JobID          id.JobID       `json:"job_id"`
	JobType        string         `json:"job_type"`
	ServiceAddress string         `json:"service_address"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	JobTimeout     time.Duration  `json:"job_timeout"`
	RetryAttempt   int            `json:"retry_attempt"`
}

// RunJob is the tracker's dispatch to the worker agent. It is distinct from
// StartJobAttempt so the tracker record exists before the worker can report.
type RunJob struct {
	AttemptID      id.AttemptID   `json:"attempt_id"`
	JobID          id.JobID       `json:"job_id"`
	JobType        string         `json:"job_type"`
	ServiceAddress string         `json:"service_address"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	JobTimeout     time.Duration  `json:"job_timeout"`
	RetryAttempt   int            `json:"retry_attempt"`
}

// JobAttemptStarted reports that the worker began executing the attempt.
type JobAttemptStarted struct {
	AttemptID id.AttemptID `json:"attempt_id"`
	JobID     id.JobID     `json:"job_id"`
	Timestamp time.Time    `json:"timestamp"`
}

// JobAttemptHeartbeat is the worker's periodic liveness signal for one
// running attempt.
type JobAttemptHeartbeat struct {
	AttemptID id.AttemptID `json:"attempt_id"`
	Timestamp time.Time    `json:"timestamp"`
}

// WorkerInstanceHeartbeat keeps a worker instance registered with the
// allocator for a job type. Instances that stop heartbeating are pruned.
type WorkerInstanceHeartbeat struct {
	JobType        string    `json:"job_type"`
	ServiceAddress string    `json:"service_address"`
	Timestamp      time.Time `json:"timestamp"`
}

// CheckJobStatus probes a worker for the state of an attempt whose
// heartbeats have gone quiet.
type CheckJobStatus struct {
	AttemptID      id.AttemptID `json:"attempt_id"`
	ServiceAddress string       `json:"service_address"`
}

// AttemptStatus enumerates the answers a worker gives to CheckJobStatus.
type AttemptStatus string

const (
	StatusRunning   AttemptStatus = "Running"
	StatusCompleted AttemptStatus = "Completed"
	StatusFaulted   AttemptStatus = "Faulted"
)

// JobStatusResponse answers a CheckJobStatus probe.
type JobStatusResponse struct {
	AttemptID id.AttemptID  `json:"attempt_id"`
	Status    AttemptStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

// JobAttemptCompleted reports successful completion of an attempt.
type JobAttemptCompleted struct {
	AttemptID id.AttemptID  `json:"attempt_id"`
	JobID     id.JobID      `json:"job_id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// JobAttemptFaulted reports that an attempt failed with an error.
type JobAttemptFaulted struct {
	AttemptID id.AttemptID `json:"attempt_id"`
	JobID     id.JobID     `json:"job_id"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
}

// JobAttemptSuspect reports that an attempt's liveness cannot be confirmed.
// Unlike JobAttemptFaulted this consumes the job's suspect retry budget.
type JobAttemptSuspect struct {
	AttemptID id.AttemptID `json:"attempt_id"`
	JobID     id.JobID     `json:"job_id"`
}

// StopJobAttempt instructs a worker to stop executing an attempt, and the
// tracker to finalize it.
type StopJobAttempt struct {
	AttemptID      id.AttemptID `json:"attempt_id"`
	ServiceAddress string       `json:"service_address,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// ──────────────────────────────────────────────────
// Timer expirations
// ──────────────────────────────────────────────────
//
// Each expiry message is armed with a cancelable token; a message whose
// token was canceled is never delivered, and machines additionally guard
// by state so a stale delivery is a no-op.

// ScheduledStartElapsed fires when a job's future start date arrives.
type ScheduledStartElapsed struct {
	JobID id.JobID `json:"job_id"`
}

// JobSlotWaitElapsed fires when a waiting job should re-request a slot.
type JobSlotWaitElapsed struct {
	JobID id.JobID `json:"job_id"`
}

// JobRetryDelayElapsed fires when a job's retry backoff has elapsed.
type JobRetryDelayElapsed struct {
	JobID id.JobID `json:"job_id"`
}

// AttemptStartTimeoutElapsed fires when a worker never acknowledged the
// start of an attempt.
type AttemptStartTimeoutElapsed struct {
	AttemptID id.AttemptID `json:"attempt_id"`
}

// AttemptLivenessElapsed fires when a running attempt missed its heartbeat
// window.
type AttemptLivenessElapsed struct {
	AttemptID id.AttemptID `json:"attempt_id"`
}

// StatusCheckElapsed fires when a status probe went unanswered.
type StatusCheckElapsed struct {
	AttemptID id.AttemptID `json:"attempt_id"`
}

// SuspectProbeElapsed fires when a suspect attempt is due another probe.
type SuspectProbeElapsed struct {
	AttemptID id.AttemptID `json:"attempt_id"`
}

// JobTimeoutElapsed fires when an attempt exceeded its execution cap.
type JobTimeoutElapsed struct {
	AttemptID id.AttemptID `json:"attempt_id"`
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// JobState is a read-only snapshot of a job's progress.
type JobState struct {
	JobID            id.JobID      `json:"job_id"`
	JobType          string        `json:"job_type"`
	CurrentState     string        `json:"current_state"`
	Submitted        *time.Time    `json:"submitted,omitempty"`
	Started          *time.Time    `json:"started,omitempty"`
	Completed        *time.Time    `json:"completed,omitempty"`
	Faulted          *time.Time    `json:"faulted,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	LastRetryAttempt int           `json:"last_retry_attempt"`
	IsRecurring      bool          `json:"is_recurring"`
	NextStartDate    *time.Time    `json:"next_start_date,omitempty"`
	StartDate        *time.Time    `json:"start_date,omitempty"`
	EndDate          *time.Time    `json:"end_date,omitempty"`
}
