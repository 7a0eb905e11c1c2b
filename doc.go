// Package steward provides a durable job-orchestration protocol for Go.
// It coordinates long-running jobs across a pool of interchangeable worker
// instances: per-job lifecycle tracking, bounded concurrency per job type,
// heartbeat-based failure detection with suspect-state probing, retry with
// pluggable backoff, and cron-style recurrence.
//
// Steward is designed as a library, not a service. Import it, configure a
// store, a message bus, and a timer service, then submit jobs.
//
// # Quick Start
//
//	c, err := steward.New(
//	    steward.WithStore(memory.New()),
//	    steward.WithSlotWaitTime(10*time.Second),
//	)
//
// # Architecture
//
// Three durable state machines cooperate, each processing one event at a
// time per instance: the Job Orchestrator (one per job) owns the job
// lifecycle, the Job Attempt Tracker (one per execution attempt) supervises
// a running attempt, and the Job Type Allocator (one per job type) hands
// out concurrency slots. All coordination is message-driven; "waiting" is
// an armed timer token, never a blocked goroutine. Persistence uses
// optimistic concurrency: every write is a compare-and-swap against the
// record version, and conflicts are resolved by reloading and reapplying.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package steward
