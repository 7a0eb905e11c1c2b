// Package ext defines the extension system for Steward.
//
// Extensions are notified of orchestration lifecycle events and can react
// to them — recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// Hooks receive entity IDs and scalar details rather than entity structs,
// so extensions never hold a stale copy of a durable record.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, jobID id.JobID, jobType string, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", jobID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobSubmitted] — submission was durably recorded
//   - [JobWaiting] — job is waiting for a concurrency slot
//   - [SlotGranted] — allocator reserved a slot on a worker instance
//   - [AttemptStarted] — a worker began executing an attempt
//   - [JobCompleted] — job finished successfully
//   - [JobRetrying] — an attempt faulted and a retry was scheduled
//   - [JobSuspect] — an attempt's liveness could not be confirmed
//   - [JobFaulted] — job failed with no retries remaining
//   - [JobCanceled] — job was canceled
//   - [JobRescheduled] — a recurring job was queued for its next run
//
// # Other Hooks
//
//   - [Shutdown] — the coordinator is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
