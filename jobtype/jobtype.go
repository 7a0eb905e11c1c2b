// Package jobtype defines the per-job-type record and the Allocator that
// grants execution slots against a concurrency limit, tracks live worker
// instances, and hints waiting jobs when capacity frees up.
package jobtype

import (
	"time"

	"github.com/quorumhq/steward"
)

// State represents the activity state of a job type.
type State string

const (
	// StateActive means at least one slot is consumed.
	StateActive State = "Active"
	// StateIdle means no slots are consumed.
	StateIdle State = "Idle"
)

// maxWaiting bounds the waiting list. Jobs beyond the cap rely on their
// own slot-wait timer to re-request; the hint is an optimization, not a
// delivery guarantee.
const maxWaiting = 64

// Instance is a worker instance known to serve a job type.
type Instance struct {
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
	// Active counts attempt reservations currently held by the instance.
	Active int `json:"active"`
}

// JobType is the durable record owned by the Allocator.
type JobType struct {
	steward.Entity

	Name  string `json:"name"`
	Limit int    `json:"limit"`
	State State  `json:"state"`

	// ActiveJobs maps job IDs holding a slot to the instance address the
	// slot was granted against.
	ActiveJobs map[string]string `json:"active_jobs,omitempty"`

	// Instances maps address to the known worker instances for this type.
	Instances map[string]*Instance `json:"instances,omitempty"`

	// Waiting holds job IDs denied a slot, in arrival order, capped at
	// maxWaiting and deduplicated.
	Waiting []string `json:"waiting,omitempty"`
}

// Consumed returns the number of slots currently held.
func (jt *JobType) Consumed() int { return len(jt.ActiveJobs) }

// HasCapacity reports whether another slot can be granted.
func (jt *JobType) HasCapacity() bool { return jt.Consumed() < jt.Limit }

func (jt *JobType) refreshState() {
	if jt.Consumed() > 0 {
		jt.State = StateActive
	} else {
		jt.State = StateIdle
	}
}

// enqueueWaiting appends a job ID to the waiting list unless it is
// already present or the list is full.
func (jt *JobType) enqueueWaiting(jobID string) {
	for _, id := range jt.Waiting {
		if id == jobID {
			return
		}
	}
	if len(jt.Waiting) >= maxWaiting {
		return
	}
	jt.Waiting = append(jt.Waiting, jobID)
}

// dequeueWaiting pops the oldest waiting job ID, or "" when empty.
func (jt *JobType) dequeueWaiting() string {
	if len(jt.Waiting) == 0 {
		return ""
	}
	jobID := jt.Waiting[0]
	jt.Waiting = jt.Waiting[1:]
	return jobID
}

// removeWaiting deletes a job ID from the waiting list if present.
func (jt *JobType) removeWaiting(jobID string) {
	for i, id := range jt.Waiting {
		if id == jobID {
			jt.Waiting = append(jt.Waiting[:i], jt.Waiting[i+1:]...)
			return
		}
	}
}
