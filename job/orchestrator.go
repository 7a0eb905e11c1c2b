package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/backoff"
	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/ext"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/recurrence"
	"github.com/quorumhq/steward/timer"
)

// FaultArchiver records terminally faulted jobs for later inspection and
// replay. It is satisfied by faultlog.Service; defined here so the
// orchestrator does not import the fault log.
type FaultArchiver interface {
	Archive(ctx context.Context, j *Job, reason string) error
}

// Orchestrator drives the per-job state machine. One Handle call applies
// exactly one message; every handler loads the record, guards by state,
// mutates, saves, and publishes follow-ups. Store conflicts surface as
// steward.ErrVersionConflict for the caller to retry.
type Orchestrator struct {
	store    Store
	pub      bus.Publisher
	sched    timer.Scheduler
	backoff  backoff.Strategy
	hooks    *ext.Registry
	archiver FaultArchiver
	cfg      steward.Config
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) OrchestratorOption {
	return func(o *Orchestrator) { o.backoff = s }
}

// WithHooks sets the extension registry notified of lifecycle events.
func WithHooks(r *ext.Registry) OrchestratorOption {
	return func(o *Orchestrator) { o.hooks = r }
}

// WithArchiver sets the fault archiver for terminally faulted jobs.
func WithArchiver(a FaultArchiver) OrchestratorOption {
	return func(o *Orchestrator) { o.archiver = a }
}

// NewOrchestrator creates a job orchestrator.
func NewOrchestrator(
	store Store,
	pub bus.Publisher,
	sched timer.Scheduler,
	cfg steward.Config,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		pub:     pub,
		sched:   sched,
		backoff: backoff.DefaultStrategy(),
		hooks:   ext.NewRegistry(logger),
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle applies one protocol message to the job it correlates to.
// Messages the orchestrator does not own are ignored.
func (o *Orchestrator) Handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case contract.SubmitJob:
		return o.handleSubmit(ctx, m)
	case contract.JobSlotResponse:
		return o.handleSlotResponse(ctx, m)
	case contract.JobSlotAvailable:
		return o.handleSlotAvailable(ctx, m)
	case contract.JobAttemptStarted:
		return o.handleAttemptStarted(ctx, m)
	case contract.JobAttemptCompleted:
		return o.handleAttemptCompleted(ctx, m)
	case contract.JobAttemptFaulted:
		return o.handleAttemptFaulted(ctx, m)
	case contract.JobAttemptSuspect:
		return o.handleAttemptSuspect(ctx, m)
	case contract.CancelJob:
		return o.handleCancel(ctx, m)
	case contract.ScheduledStartElapsed:
		return o.handleScheduledStart(ctx, m)
	case contract.JobSlotWaitElapsed:
		return o.handleSlotWaitElapsed(ctx, m)
	case contract.JobRetryDelayElapsed:
		return o.handleRetryDelayElapsed(ctx, m)
	default:
		return nil
	}
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

func (o *Orchestrator) handleSubmit(ctx context.Context, m contract.SubmitJob) error {
	if m.JobID.IsNil() || m.JobType == "" {
		return fmt.Errorf("%w: job id and job type are required", steward.ErrInvalidSubmission)
	}

	// Redelivered submission: the record exists, just re-acknowledge.
	if _, err := o.store.GetJob(ctx, m.JobID); err == nil {
		return o.pub.Publish(ctx, contract.JobSubmissionAccepted{JobID: m.JobID})
	} else if !errors.Is(err, steward.ErrJobNotFound) {
		return err
	}

	now := time.Now().UTC()
	j := &Job{
		Entity:         steward.NewEntity(),
		ID:             m.JobID,
		JobType:        m.JobType,
		Arguments:      m.Arguments,
		State:          StateSubmitted,
		Submitted:      &now,
		JobTimeout:     m.JobTimeout,
		CronExpression: m.CronExpression,
		TimeZoneID:     m.TimeZoneID,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
	}
	if j.JobTimeout <= 0 {
		j.JobTimeout = o.cfg.DefaultJobTimeout
	}

	if j.IsRecurring() {
		next, err := recurrence.NextInWindow(j.CronExpression, j.TimeZoneID, now, j.StartDate, j.EndDate)
		if err != nil {
			return fmt.Errorf("%w: %v", steward.ErrInvalidSubmission, err)
		}
		if next == nil {
			// The recurrence window is already over; record the job as
			// canceled so the submitter can query why nothing ran.
			j.State = StateCanceled
			j.Reason = "recurrence window expired"
			if err := o.store.CreateJob(ctx, j); err != nil {
				return err
			}
			return o.pub.Publish(ctx, contract.JobSubmissionAccepted{JobID: j.ID})
		}
		j.NextStartDate = next
	} else if m.StartDate != nil && m.StartDate.After(now) {
		j.NextStartDate = m.StartDate
	}

	if err := o.store.CreateJob(ctx, j); err != nil {
		return err
	}
	if err := o.pub.Publish(ctx, contract.JobSubmissionAccepted{JobID: j.ID}); err != nil {
		return err
	}
	o.hooks.EmitJobSubmitted(ctx, j.ID, j.JobType)

	o.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.JobType),
		slog.Bool("recurring", j.IsRecurring()),
	)

	// A future start date (explicit or from recurrence) arms the start
	// timer; otherwise the job goes straight to slot allocation.
	if j.NextStartDate != nil && j.NextStartDate.After(now) {
		return o.armScheduledStart(ctx, j, *j.NextStartDate)
	}
	return o.requestSlot(ctx, j)
}

// armScheduledStart schedules ScheduledStartElapsed for the given time,
// reusing SlotWaitToken: a job never waits for a start and a slot at once.
func (o *Orchestrator) armScheduledStart(ctx context.Context, j *Job, at time.Time) error {
	token, err := o.sched.Schedule(ctx, time.Until(at), contract.ScheduledStartElapsed{JobID: j.ID})
	if err != nil {
		return err
	}
	j.SlotWaitToken = token
	return o.store.UpdateJob(ctx, j)
}

// requestSlot moves the job into AllocatingJobSlot and asks the allocator
// for capacity.
func (o *Orchestrator) requestSlot(ctx context.Context, j *Job) error {
	j.State = StateAllocatingJobSlot
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	return o.pub.Publish(ctx, contract.AllocateJobSlot{JobType: j.JobType, JobID: j.ID})
}

func (o *Orchestrator) handleScheduledStart(ctx context.Context, m contract.ScheduledStartElapsed) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.State != StateSubmitted {
		return nil
	}
	j.SlotWaitToken = id.Nil
	return o.requestSlot(ctx, j)
}

// ──────────────────────────────────────────────────
// Slot allocation
// ──────────────────────────────────────────────────

func (o *Orchestrator) handleSlotResponse(ctx context.Context, m contract.JobSlotResponse) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		if errors.Is(err, steward.ErrJobNotFound) && m.Granted {
			// The job record is gone (finalized or canceled); hand the
			// slot straight back.
			return o.pub.Publish(ctx, contract.ReleaseJobSlot{JobType: m.JobType, JobID: m.JobID})
		}
		return o.swallowNotFound(err)
	}

	if !m.Granted {
		if j.State != StateAllocatingJobSlot {
			return nil
		}
		j.State = StateWaitingForSlot
		token, err := o.sched.Schedule(ctx, o.cfg.SlotWaitTime, contract.JobSlotWaitElapsed{JobID: j.ID})
		if err != nil {
			return err
		}
		j.SlotWaitToken = token
		if err := o.store.UpdateJob(ctx, j); err != nil {
			return err
		}
		o.hooks.EmitJobWaiting(ctx, j.ID, j.JobType)
		return nil
	}

	switch j.State {
	case StateAllocatingJobSlot:
	case StateStartingJobAttempt, StateStarted:
		// Redelivered grant for the slot the job already holds (the
		// allocator answers a repeated request with the original grant).
		// Returning it here would free a slot that is still in use.
		return nil
	default:
		// Stray grant — the job moved on (canceled, faulted, waiting to
		// retry) while the request was in flight and holds no slot.
		// Return it.
		return o.pub.Publish(ctx, contract.ReleaseJobSlot{JobType: j.JobType, JobID: j.ID})
	}

	j.AttemptID = id.NewAttemptID()
	j.ServiceAddress = m.ServiceAddress
	j.State = StateStartingJobAttempt
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitSlotGranted(ctx, j.ID, j.JobType, j.ServiceAddress)

	o.logger.Debug("job slot granted",
		slog.String("job_id", j.ID.String()),
		slog.String("attempt_id", j.AttemptID.String()),
		slog.String("service_address", j.ServiceAddress),
	)

	return o.pub.Publish(ctx, contract.StartJobAttempt{
		AttemptID:      j.AttemptID,
		JobID:          j.ID,
		JobType:        j.JobType,
		ServiceAddress: j.ServiceAddress,
		Arguments:      j.Arguments,
		JobTimeout:     j.JobTimeout,
		RetryAttempt:   j.RetryAttempt,
	})
}

func (o *Orchestrator) handleSlotAvailable(ctx context.Context, m contract.JobSlotAvailable) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.State != StateWaitingForSlot {
		return nil
	}
	if err := o.sched.Cancel(ctx, j.SlotWaitToken); err != nil {
		return err
	}
	j.SlotWaitToken = id.Nil
	return o.requestSlot(ctx, j)
}

func (o *Orchestrator) handleSlotWaitElapsed(ctx context.Context, m contract.JobSlotWaitElapsed) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.State != StateWaitingForSlot {
		return nil
	}
	j.SlotWaitToken = id.Nil
	return o.requestSlot(ctx, j)
}

// ──────────────────────────────────────────────────
// Attempt outcomes
// ──────────────────────────────────────────────────

func (o *Orchestrator) handleAttemptStarted(ctx context.Context, m contract.JobAttemptStarted) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.AttemptID != m.AttemptID {
		return nil
	}
	if j.State != StateStartingJobAttempt && j.State != StateStarted {
		return nil
	}

	j.State = StateStarted
	if j.Started == nil {
		ts := m.Timestamp.UTC()
		j.Started = &ts
	}
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitAttemptStarted(ctx, j.ID, j.AttemptID, j.RetryAttempt)
	return nil
}

func (o *Orchestrator) handleAttemptCompleted(ctx context.Context, m contract.JobAttemptCompleted) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.AttemptID != m.AttemptID {
		return nil
	}
	// A completion is accepted from WaitingToRetry too: the attempt was
	// presumed lost but actually finished before the retry fired.
	switch j.State {
	case StateStartingJobAttempt, StateStarted, StateWaitingToRetry:
	default:
		return nil
	}

	if j.State == StateWaitingToRetry {
		if err := o.sched.Cancel(ctx, j.RetryDelayToken); err != nil {
			return err
		}
		j.RetryDelayToken = id.Nil
	}

	if err := o.pub.Publish(ctx, contract.ReleaseJobSlot{JobType: j.JobType, JobID: j.ID}); err != nil {
		return err
	}

	ts := m.Timestamp.UTC()
	j.Completed = &ts
	j.Duration = m.Duration
	if j.Started == nil {
		// The start acknowledgement may still be in flight on another
		// dispatch goroutine; derive the start from the reported duration
		// so the progress stamps stay ordered.
		started := ts.Add(-m.Duration)
		j.Started = &started
	}

	if j.IsRecurring() {
		next, nextErr := recurrence.NextInWindow(j.CronExpression, j.TimeZoneID, ts, j.StartDate, j.EndDate)
		if nextErr != nil {
			// The expression was validated at submission; treat a parse
			// failure here as the end of the recurrence.
			o.logger.Error("recurrence evaluation failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", nextErr.Error()),
			)
		} else if next != nil {
			return o.rescheduleRecurring(ctx, j, *next, m.Duration)
		}
	}

	j.State = StateCompleted
	j.Reason = ""
	j.Faulted = nil

	o.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.JobType),
		slog.Duration("duration", m.Duration),
	)

	if o.cfg.FinalizeCompleted {
		o.hooks.EmitJobCompleted(ctx, j.ID, j.JobType, m.Duration)
		return o.store.DeleteJob(ctx, j.ID)
	}
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitJobCompleted(ctx, j.ID, j.JobType, m.Duration)
	return nil
}

// rescheduleRecurring resets a completed recurring job for its next run.
func (o *Orchestrator) rescheduleRecurring(ctx context.Context, j *Job, next time.Time, elapsed time.Duration) error {
	j.State = StateSubmitted
	j.RetryAttempt = 0
	j.SuspectRetryAttempt = 0
	j.AttemptID = id.Nil
	j.ServiceAddress = ""
	j.Reason = ""
	j.Faulted = nil
	j.NextStartDate = &next

	token, err := o.sched.Schedule(ctx, time.Until(next), contract.ScheduledStartElapsed{JobID: j.ID})
	if err != nil {
		return err
	}
	j.SlotWaitToken = token

	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitJobCompleted(ctx, j.ID, j.JobType, elapsed)
	o.hooks.EmitJobRescheduled(ctx, j.ID, next)

	o.logger.Info("recurring job rescheduled",
		slog.String("job_id", j.ID.String()),
		slog.Time("next_start", next),
	)
	return nil
}

func (o *Orchestrator) handleAttemptFaulted(ctx context.Context, m contract.JobAttemptFaulted) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.AttemptID != m.AttemptID {
		return nil
	}
	if j.State != StateStartingJobAttempt && j.State != StateStarted {
		return nil
	}

	if err := o.pub.Publish(ctx, contract.ReleaseJobSlot{JobType: j.JobType, JobID: j.ID}); err != nil {
		return err
	}

	ts := m.Timestamp.UTC()
	j.Faulted = &ts
	j.Reason = m.Reason
	if j.Started == nil {
		// The worker ran the attempt, so it started; the acknowledgement
		// lost a dispatch race. The fault time is the best bound we have.
		j.Started = &ts
	}

	if j.RetryAttempt < o.cfg.RetryLimit {
		j.RetryAttempt++
		delay := o.backoff.Delay(j.RetryAttempt)
		return o.armRetry(ctx, j, delay)
	}

	return o.faultTerminally(ctx, j, m.Reason)
}

func (o *Orchestrator) handleAttemptSuspect(ctx context.Context, m contract.JobAttemptSuspect) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.AttemptID != m.AttemptID {
		return nil
	}
	if j.State != StateStartingJobAttempt && j.State != StateStarted {
		return nil
	}

	if err := o.pub.Publish(ctx, contract.ReleaseJobSlot{JobType: j.JobType, JobID: j.ID}); err != nil {
		return err
	}
	o.hooks.EmitJobSuspect(ctx, j.ID, j.AttemptID)

	// Liveness loss consumes its own retry budget so a flaky network
	// cannot exhaust the fault retries.
	if j.SuspectRetryAttempt < o.cfg.SuspectJobRetryCount {
		j.SuspectRetryAttempt++
		j.Reason = "job attempt suspect"
		return o.armRetry(ctx, j, o.cfg.SuspectJobRetryDelay)
	}

	now := time.Now().UTC()
	j.Faulted = &now
	return o.faultTerminally(ctx, j, "job attempt suspect: liveness probes exhausted")
}

// armRetry parks the job in WaitingToRetry with the retry timer armed.
// The current attempt binding is kept so a late outcome can still be
// accepted, and the attempt stopped when the retry actually fires.
func (o *Orchestrator) armRetry(ctx context.Context, j *Job, delay time.Duration) error {
	j.State = StateWaitingToRetry
	token, err := o.sched.Schedule(ctx, delay, contract.JobRetryDelayElapsed{JobID: j.ID})
	if err != nil {
		return err
	}
	j.RetryDelayToken = token
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitJobRetrying(ctx, j.ID, j.RetryAttempt, delay)

	o.logger.Info("job retry scheduled",
		slog.String("job_id", j.ID.String()),
		slog.Int("retry_attempt", j.RetryAttempt),
		slog.Int("suspect_retry_attempt", j.SuspectRetryAttempt),
		slog.Duration("delay", delay),
	)
	return nil
}

func (o *Orchestrator) faultTerminally(ctx context.Context, j *Job, reason string) error {
	j.State = StateFaulted
	j.Reason = reason
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitJobFaulted(ctx, j.ID, j.JobType, reason)

	o.logger.Warn("job faulted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.JobType),
		slog.String("reason", reason),
		slog.Int("retry_attempt", j.RetryAttempt),
	)

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, j, reason); err != nil {
			o.logger.Error("fault archive failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (o *Orchestrator) handleRetryDelayElapsed(ctx context.Context, m contract.JobRetryDelayElapsed) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.State != StateWaitingToRetry {
		return nil
	}
	j.RetryDelayToken = id.Nil

	// The superseded attempt may still be executing somewhere (suspect
	// path); tell its worker to stop before starting over.
	if !j.AttemptID.IsNil() {
		stop := contract.StopJobAttempt{
			AttemptID:      j.AttemptID,
			ServiceAddress: j.ServiceAddress,
			Reason:         "superseded by retry",
		}
		if err := o.pub.Publish(ctx, stop); err != nil {
			return err
		}
		j.AttemptID = id.Nil
		j.ServiceAddress = ""
	}

	return o.requestSlot(ctx, j)
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func (o *Orchestrator) handleCancel(ctx context.Context, m contract.CancelJob) error {
	j, err := o.store.GetJob(ctx, m.JobID)
	if err != nil {
		return o.swallowNotFound(err)
	}
	if j.State.IsTerminal() {
		return nil
	}

	if err := o.sched.Cancel(ctx, j.SlotWaitToken); err != nil {
		return err
	}
	if err := o.sched.Cancel(ctx, j.RetryDelayToken); err != nil {
		return err
	}
	j.SlotWaitToken = id.Nil
	j.RetryDelayToken = id.Nil

	// Release the slot when one is held. A grant still in flight is
	// handled by handleSlotResponse, which returns stray grants.
	if j.State == StateStartingJobAttempt || j.State == StateStarted {
		if err := o.pub.Publish(ctx, contract.ReleaseJobSlot{JobType: j.JobType, JobID: j.ID}); err != nil {
			return err
		}
	}
	if !j.AttemptID.IsNil() {
		stop := contract.StopJobAttempt{
			AttemptID:      j.AttemptID,
			ServiceAddress: j.ServiceAddress,
			Reason:         "job canceled",
		}
		if err := o.pub.Publish(ctx, stop); err != nil {
			return err
		}
	}

	j.State = StateCanceled
	j.Reason = "job canceled"
	if err := o.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	o.hooks.EmitJobCanceled(ctx, j.ID)

	o.logger.Info("job canceled", slog.String("job_id", j.ID.String()))
	return nil
}

// swallowNotFound drops ErrJobNotFound: at-least-once delivery means
// messages can outlive their job record.
func (o *Orchestrator) swallowNotFound(err error) error {
	if errors.Is(err, steward.ErrJobNotFound) {
		return nil
	}
	return err
}
