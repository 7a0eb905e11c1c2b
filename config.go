package steward

import "time"

// Config holds configuration for the protocol machines.
type Config struct {
	// DefaultJobTimeout caps attempt execution time when a submission does
	// not carry its own timeout.
	DefaultJobTimeout time.Duration

	// ConcurrentJobLimit is the default number of concurrent slots per job
	// type. JobTypeLimits overrides it for specific types.
	ConcurrentJobLimit int

	// JobTypeLimits maps job type names to their concurrent slot limits.
	JobTypeLimits map[string]int

	// ConcurrentMessageLimit is the bus dispatch concurrency — how many
	// protocol events may be applied simultaneously across instances. It is
	// unrelated to job slots.
	ConcurrentMessageLimit int

	// HeartbeatInterval is how often running attempts are expected to send
	// heartbeats.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long an attempt (and a pooled worker instance)
	// may go without a heartbeat before its liveness is questioned.
	HeartbeatTimeout time.Duration

	// StartAckTimeout bounds how long a tracker waits for the worker to
	// acknowledge an attempt start before declaring a fault.
	StartAckTimeout time.Duration

	// StatusCheckTimeout is the window a status probe may go unanswered
	// before the attempt is marked suspect.
	StatusCheckTimeout time.Duration

	// SlotWaitTime is how long a job waits before re-requesting a slot when
	// the allocator replied busy.
	SlotWaitTime time.Duration

	// RetryLimit is the number of retries granted to a job whose attempts
	// fault. Zero disables retry.
	RetryLimit int

	// SuspectJobRetryCount is the separate retry budget consumed by suspect
	// (liveness) failures, and the number of status probes a suspect
	// attempt receives before a hard fault.
	SuspectJobRetryCount int

	// SuspectJobRetryDelay is the fixed delay before retrying after a
	// suspect report, and the spacing of suspect status probes.
	SuspectJobRetryDelay time.Duration

	// FinalizeCompleted removes completed non-recurring job records instead
	// of retaining them in the Completed state.
	FinalizeCompleted bool

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultJobTimeout:      5 * time.Minute,
		ConcurrentJobLimit:     10,
		ConcurrentMessageLimit: 16,
		HeartbeatInterval:      10 * time.Second,
		HeartbeatTimeout:       30 * time.Second,
		StartAckTimeout:        30 * time.Second,
		StatusCheckTimeout:     15 * time.Second,
		SlotWaitTime:           30 * time.Second,
		RetryLimit:             3,
		SuspectJobRetryCount:   3,
		SuspectJobRetryDelay:   time.Minute,
		FinalizeCompleted:      false,
		ShutdownTimeout:        30 * time.Second,
	}
}
