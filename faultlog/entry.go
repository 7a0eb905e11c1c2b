package faultlog

import (
	"time"

	"github.com/quorumhq/steward/id"
)

// Entry represents a job that exhausted its retry budget and was moved
// to the fault log for inspection or replay.
type Entry struct {
	ID           id.FaultID     `json:"id"`
	JobID        id.JobID       `json:"job_id"`
	JobType      string         `json:"job_type"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Reason       string         `json:"reason"`
	RetryAttempt int            `json:"retry_attempt"`
	RetryLimit   int            `json:"retry_limit"`
	JobTimeout   time.Duration  `json:"job_timeout"`
	FailedAt     time.Time      `json:"failed_at"`
	ReplayedAt   *time.Time     `json:"replayed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
