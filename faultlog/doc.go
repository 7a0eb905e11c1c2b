// Package faultlog provides the fault log for jobs that faulted with no
// retries remaining. It supports inspection, replay, and purging.
//
// When a job faults terminally, the orchestrator archives it through
// [Service.Archive]. The job's arguments, final reason, and retry counts
// are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / JobType: original job identity
//   - Arguments: the job arguments at time of failure
//   - Reason: the final fault reason
//   - RetryAttempt / RetryLimit: the exhausted retry budget
//   - FailedAt: when the terminal fault occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Replay
//
// Replaying an entry submits a fresh job with the original type,
// arguments, and timeout. The new job gets a new ID and a clean retry
// budget; the faulted record stays queryable under its old ID. Replay
// sets ReplayedAt on the entry.
package faultlog
