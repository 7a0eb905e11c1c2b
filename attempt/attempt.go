// Package attempt defines the job attempt entity and the Tracker that
// supervises one execution attempt on a worker instance: start
// acknowledgement, heartbeat liveness, status probing when heartbeats
// stop, suspect escalation, and the hard execution timeout.
package attempt

import (
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/timer"
)

// State represents the lifecycle state of an attempt.
type State string

const (
	// StateStarting means the attempt was dispatched but the worker has
	// not yet acknowledged it.
	StateStarting State = "Starting"
	// StateRunning means the worker is executing and heartbeating.
	StateRunning State = "Running"
	// StateCheckingStatus means heartbeats stopped and a status probe is
	// outstanding.
	StateCheckingStatus State = "CheckingStatus"
	// StateSuspect means a status probe went unanswered; the attempt is
	// presumed lost and is being probed on a slower cadence.
	StateSuspect State = "Suspect"
	// StateCompleted means the attempt finished successfully. Terminal.
	StateCompleted State = "Completed"
	// StateFaulted means the attempt failed, timed out, or its liveness
	// was never re-established. Terminal.
	StateFaulted State = "Faulted"
	// StateStopped means the attempt was stopped on request (cancel or
	// retry supersession). Terminal.
	StateStopped State = "Stopped"
)

// IsTerminal reports whether s is a resting state the attempt never leaves.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFaulted || s == StateStopped
}

// Attempt is the durable record owned by the Tracker.
type Attempt struct {
	steward.Entity

	ID             id.AttemptID `json:"id"`
	JobID          id.JobID     `json:"job_id"`
	JobType        string       `json:"job_type"`
	ServiceAddress string       `json:"service_address"`
	RetryAttempt   int          `json:"retry_attempt"`
	State          State        `json:"state"`

	JobTimeout    time.Duration `json:"job_timeout"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	LastHeartbeat *time.Time    `json:"last_heartbeat,omitempty"`
	SuspectProbes int           `json:"suspect_probes"`
	Reason        string        `json:"reason,omitempty"`

	// Armed timer tokens.
	StartToken    timer.Token `json:"start_token,omitempty"`
	LivenessToken timer.Token `json:"liveness_token,omitempty"`
	CheckToken    timer.Token `json:"check_token,omitempty"`
	ProbeToken    timer.Token `json:"probe_token,omitempty"`
	TimeoutToken  timer.Token `json:"timeout_token,omitempty"`
}
