package job

import (
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/timer"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateSubmitted means the job is recorded and waiting for its start
	// condition (immediate, scheduled start, or next recurrence).
	StateSubmitted State = "Submitted"
	// StateAllocatingJobSlot means a slot request is in flight to the
	// job type allocator.
	StateAllocatingJobSlot State = "AllocatingJobSlot"
	// StateWaitingForSlot means the allocator answered busy and the job
	// is waiting to re-request.
	StateWaitingForSlot State = "WaitingForSlot"
	// StateStartingJobAttempt means a slot was granted and an attempt
	// was dispatched but not yet acknowledged by the worker.
	StateStartingJobAttempt State = "StartingJobAttempt"
	// StateStarted means the worker acknowledged the attempt and is
	// executing it.
	StateStarted State = "Started"
	// StateWaitingToRetry means the last attempt faulted and the retry
	// backoff timer is armed.
	StateWaitingToRetry State = "WaitingToRetry"
	// StateCompleted means the job finished successfully. Terminal but
	// queryable.
	StateCompleted State = "Completed"
	// StateFaulted means the job failed with no retries remaining.
	// Terminal but queryable.
	StateFaulted State = "Faulted"
	// StateCanceled means the job was explicitly canceled or its
	// recurrence window expired. Terminal but queryable.
	StateCanceled State = "Canceled"
)

// IsTerminal reports whether s is a resting state the job never leaves.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFaulted || s == StateCanceled
}

// Job is the durable record owned by the Orchestrator.
type Job struct {
	steward.Entity

	ID        id.JobID       `json:"id"`
	JobType   string         `json:"job_type"`
	Arguments map[string]any `json:"arguments,omitempty"`
	State     State          `json:"state"`

	// Progress timestamps. Started is stamped on the first attempt only;
	// retries do not reset it.
	Submitted *time.Time    `json:"submitted,omitempty"`
	Started   *time.Time    `json:"started,omitempty"`
	Completed *time.Time    `json:"completed,omitempty"`
	Faulted   *time.Time    `json:"faulted,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Reason    string        `json:"reason,omitempty"`

	// Retry bookkeeping. RetryAttempt counts fault retries;
	// SuspectRetryAttempt counts liveness-loss retries separately.
	RetryAttempt        int `json:"retry_attempt"`
	SuspectRetryAttempt int `json:"suspect_retry_attempt"`

	// Current attempt binding, valid in StartingJobAttempt, Started and
	// (for a superseded attempt) WaitingToRetry.
	AttemptID      id.AttemptID `json:"attempt_id,omitempty"`
	ServiceAddress string       `json:"service_address,omitempty"`

	JobTimeout time.Duration `json:"job_timeout"`

	// Armed timer tokens. SlotWaitToken doubles as the scheduled-start
	// token; the two waits are mutually exclusive.
	SlotWaitToken   timer.Token `json:"slot_wait_token,omitempty"`
	RetryDelayToken timer.Token `json:"retry_delay_token,omitempty"`

	// Recurrence.
	CronExpression string     `json:"cron_expression,omitempty"`
	TimeZoneID     string     `json:"time_zone_id,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	NextStartDate  *time.Time `json:"next_start_date,omitempty"`
}

// IsRecurring reports whether the job reschedules itself on completion.
func (j *Job) IsRecurring() bool { return j.CronExpression != "" }

// Snapshot returns a read-only view of the job's progress.
func (j *Job) Snapshot() contract.JobState {
	return contract.JobState{
		JobID:            j.ID,
		JobType:          j.JobType,
		CurrentState:     string(j.State),
		Submitted:        j.Submitted,
		Started:          j.Started,
		Completed:        j.Completed,
		Faulted:          j.Faulted,
		Duration:         j.Duration,
		Reason:           j.Reason,
		LastRetryAttempt: j.RetryAttempt,
		IsRecurring:      j.IsRecurring(),
		NextStartDate:    j.NextStartDate,
		StartDate:        j.StartDate,
		EndDate:          j.EndDate,
	}
}
