package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/quorumhq/steward/id"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobWaitingEntry struct {
	name string
	hook JobWaiting
}

type slotGrantedEntry struct {
	name string
	hook SlotGranted
}

type attemptStartedEntry struct {
	name string
	hook AttemptStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobSuspectEntry struct {
	name string
	hook JobSuspect
}

type jobFaultedEntry struct {
	name string
	hook JobFaulted
}

type jobCanceledEntry struct {
	name string
	hook JobCanceled
}

type jobRescheduledEntry struct {
	name string
	hook JobRescheduled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobSubmitted   []jobSubmittedEntry
	jobWaiting     []jobWaitingEntry
	slotGranted    []slotGrantedEntry
	attemptStarted []attemptStartedEntry
	jobCompleted   []jobCompletedEntry
	jobRetrying    []jobRetryingEntry
	jobSuspect     []jobSuspectEntry
	jobFaulted     []jobFaultedEntry
	jobCanceled    []jobCanceledEntry
	jobRescheduled []jobRescheduledEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobWaiting); ok {
		r.jobWaiting = append(r.jobWaiting, jobWaitingEntry{name, h})
	}
	if h, ok := e.(SlotGranted); ok {
		r.slotGranted = append(r.slotGranted, slotGrantedEntry{name, h})
	}
	if h, ok := e.(AttemptStarted); ok {
		r.attemptStarted = append(r.attemptStarted, attemptStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobSuspect); ok {
		r.jobSuspect = append(r.jobSuspect, jobSuspectEntry{name, h})
	}
	if h, ok := e.(JobFaulted); ok {
		r.jobFaulted = append(r.jobFaulted, jobFaultedEntry{name, h})
	}
	if h, ok := e.(JobCanceled); ok {
		r.jobCanceled = append(r.jobCanceled, jobCanceledEntry{name, h})
	}
	if h, ok := e.(JobRescheduled); ok {
		r.jobRescheduled = append(r.jobRescheduled, jobRescheduledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, jobID id.JobID, jobType string) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, jobID, jobType); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobWaiting notifies all extensions that implement JobWaiting.
func (r *Registry) EmitJobWaiting(ctx context.Context, jobID id.JobID, jobType string) {
	for _, e := range r.jobWaiting {
		if err := e.hook.OnJobWaiting(ctx, jobID, jobType); err != nil {
			r.logHookError("OnJobWaiting", e.name, err)
		}
	}
}

// EmitSlotGranted notifies all extensions that implement SlotGranted.
func (r *Registry) EmitSlotGranted(ctx context.Context, jobID id.JobID, jobType, serviceAddress string) {
	for _, e := range r.slotGranted {
		if err := e.hook.OnSlotGranted(ctx, jobID, jobType, serviceAddress); err != nil {
			r.logHookError("OnSlotGranted", e.name, err)
		}
	}
}

// EmitAttemptStarted notifies all extensions that implement AttemptStarted.
func (r *Registry) EmitAttemptStarted(ctx context.Context, jobID id.JobID, attemptID id.AttemptID, retryAttempt int) {
	for _, e := range r.attemptStarted {
		if err := e.hook.OnAttemptStarted(ctx, jobID, attemptID, retryAttempt); err != nil {
			r.logHookError("OnAttemptStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, jobID id.JobID, jobType string, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, jobID, jobType, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, jobID id.JobID, attempt int, delay time.Duration) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, jobID, attempt, delay); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobSuspect notifies all extensions that implement JobSuspect.
func (r *Registry) EmitJobSuspect(ctx context.Context, jobID id.JobID, attemptID id.AttemptID) {
	for _, e := range r.jobSuspect {
		if err := e.hook.OnJobSuspect(ctx, jobID, attemptID); err != nil {
			r.logHookError("OnJobSuspect", e.name, err)
		}
	}
}

// EmitJobFaulted notifies all extensions that implement JobFaulted.
func (r *Registry) EmitJobFaulted(ctx context.Context, jobID id.JobID, jobType, reason string) {
	for _, e := range r.jobFaulted {
		if err := e.hook.OnJobFaulted(ctx, jobID, jobType, reason); err != nil {
			r.logHookError("OnJobFaulted", e.name, err)
		}
	}
}

// EmitJobCanceled notifies all extensions that implement JobCanceled.
func (r *Registry) EmitJobCanceled(ctx context.Context, jobID id.JobID) {
	for _, e := range r.jobCanceled {
		if err := e.hook.OnJobCanceled(ctx, jobID); err != nil {
			r.logHookError("OnJobCanceled", e.name, err)
		}
	}
}

// EmitJobRescheduled notifies all extensions that implement JobRescheduled.
func (r *Registry) EmitJobRescheduled(ctx context.Context, jobID id.JobID, next time.Time) {
	for _, e := range r.jobRescheduled {
		if err := e.hook.OnJobRescheduled(ctx, jobID, next); err != nil {
			r.logHookError("OnJobRescheduled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
