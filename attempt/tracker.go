package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/timer"
)

// Tracker supervises job attempts. It owns the attempt record and reacts
// to worker reports and timer expiries; it never blocks waiting for a
// worker. All waiting is an armed timer token on the persisted record, so
// a duplicate or late message finds the record in a state that makes the
// message a no-op.
type Tracker struct {
	store  Store
	pub    bus.Publisher
	sched  timer.Scheduler
	cfg    steward.Config
	logger *slog.Logger
}

// NewTracker builds an attempt tracker.
func NewTracker(store Store, pub bus.Publisher, sched timer.Scheduler, cfg steward.Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, pub: pub, sched: sched, cfg: cfg, logger: logger}
}

// Handle dispatches a single protocol message. Messages the tracker does
// not own are ignored.
func (t *Tracker) Handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case contract.StartJobAttempt:
		return t.handleStart(ctx, m)
	case contract.JobAttemptStarted:
		return t.handleStarted(ctx, m)
	case contract.JobAttemptHeartbeat:
		return t.handleHeartbeat(ctx, m)
	case contract.AttemptLivenessElapsed:
		return t.handleLivenessElapsed(ctx, m)
	case contract.JobStatusResponse:
		return t.handleStatusResponse(ctx, m)
	case contract.StatusCheckElapsed:
		return t.handleStatusCheckElapsed(ctx, m)
	case contract.SuspectProbeElapsed:
		return t.handleSuspectProbeElapsed(ctx, m)
	case contract.AttemptStartTimeoutElapsed:
		return t.handleStartTimeoutElapsed(ctx, m)
	case contract.JobTimeoutElapsed:
		return t.handleJobTimeoutElapsed(ctx, m)
	case contract.JobAttemptCompleted:
		return t.handleCompleted(ctx, m)
	case contract.JobAttemptFaulted:
		return t.handleFaulted(ctx, m)
	case contract.StopJobAttempt:
		return t.handleStop(ctx, m)
	default:
		return nil
	}
}

// ──────────────────────────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────────────────────────

func (t *Tracker) handleStart(ctx context.Context, m contract.StartJobAttempt) error {
	// A redelivered StartJobAttempt finds the record and does nothing.
	if _, err := t.store.GetAttempt(ctx, m.AttemptID); err == nil {
		return nil
	} else if !errors.Is(err, steward.ErrAttemptNotFound) {
		return err
	}

	a := &Attempt{
		Entity:         steward.NewEntity(),
		ID:             m.AttemptID,
		JobID:          m.JobID,
		JobType:        m.JobType,
		ServiceAddress: m.ServiceAddress,
		RetryAttempt:   m.RetryAttempt,
		JobTimeout:     m.JobTimeout,
		State:          StateStarting,
	}

	startToken, err := t.sched.Schedule(ctx, t.cfg.StartAckTimeout, contract.AttemptStartTimeoutElapsed{AttemptID: a.ID})
	if err != nil {
		return fmt.Errorf("schedule start ack timeout: %w", err)
	}
	a.StartToken = startToken

	timeoutToken, err := t.sched.Schedule(ctx, a.JobTimeout, contract.JobTimeoutElapsed{AttemptID: a.ID})
	if err != nil {
		return fmt.Errorf("schedule job timeout: %w", err)
	}
	a.TimeoutToken = timeoutToken

	if err := t.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, steward.ErrAttemptAlreadyExists) {
			return nil
		}
		return err
	}

	t.logger.Debug("attempt dispatched",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.String("service_address", a.ServiceAddress),
		slog.Int("retry_attempt", a.RetryAttempt))

	return t.pub.Publish(ctx, contract.RunJob{
		AttemptID:      m.AttemptID,
		JobID:          m.JobID,
		JobType:        m.JobType,
		ServiceAddress: m.ServiceAddress,
		Arguments:      m.Arguments,
		JobTimeout:     m.JobTimeout,
		RetryAttempt:   m.RetryAttempt,
	})
}

func (t *Tracker) handleStarted(ctx context.Context, m contract.JobAttemptStarted) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State != StateStarting {
		return nil
	}

	if err := t.sched.Cancel(ctx, a.StartToken); err != nil {
		return err
	}
	a.StartToken = id.Nil

	ts := m.Timestamp.UTC()
	a.State = StateRunning
	a.StartedAt = &ts
	a.LastHeartbeat = &ts
	if err := t.armLiveness(ctx, a); err != nil {
		return err
	}
	if err := t.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	t.logger.Debug("attempt running",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()))
	return nil
}

func (t *Tracker) handleHeartbeat(ctx context.Context, m contract.JobAttemptHeartbeat) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}

	ts := m.Timestamp.UTC()
	switch a.State {
	case StateRunning:
		if err := t.sched.Cancel(ctx, a.LivenessToken); err != nil {
			return err
		}
		a.LastHeartbeat = &ts
		if err := t.armLiveness(ctx, a); err != nil {
			return err
		}
		if err := t.store.UpdateAttempt(ctx, a); err != nil {
			return err
		}

	case StateCheckingStatus:
		// A late heartbeat answers the liveness question as well as a
		// status response does.
		if err := t.sched.Cancel(ctx, a.CheckToken); err != nil {
			return err
		}
		a.CheckToken = id.Nil
		a.State = StateRunning
		a.LastHeartbeat = &ts
		if err := t.armLiveness(ctx, a); err != nil {
			return err
		}
		if err := t.store.UpdateAttempt(ctx, a); err != nil {
			return err
		}
		t.logger.Debug("attempt liveness recovered by heartbeat",
			slog.String("attempt_id", a.ID.String()))

	case StateSuspect:
		// Recorded for diagnostics, but suspicion is only lifted by a
		// status response so the probe cycle stays authoritative.
		a.LastHeartbeat = &ts
		if err := t.store.UpdateAttempt(ctx, a); err != nil {
			return err
		}

	default:
		return nil
	}

	return t.pub.Publish(ctx, contract.WorkerInstanceHeartbeat{
		JobType:        a.JobType,
		ServiceAddress: a.ServiceAddress,
		Timestamp:      ts,
	})
}

func (t *Tracker) handleLivenessElapsed(ctx context.Context, m contract.AttemptLivenessElapsed) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State != StateRunning {
		return nil
	}

	a.LivenessToken = id.Nil
	a.State = StateCheckingStatus
	checkToken, err := t.sched.Schedule(ctx, t.cfg.StatusCheckTimeout, contract.StatusCheckElapsed{AttemptID: a.ID})
	if err != nil {
		return fmt.Errorf("schedule status check timeout: %w", err)
	}
	a.CheckToken = checkToken
	if err := t.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	t.logger.Info("attempt heartbeats stopped, probing status",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.String("service_address", a.ServiceAddress))

	return t.pub.Publish(ctx, contract.CheckJobStatus{
		AttemptID:      a.ID,
		ServiceAddress: a.ServiceAddress,
	})
}

func (t *Tracker) handleStatusResponse(ctx context.Context, m contract.JobStatusResponse) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State.IsTerminal() {
		return nil
	}

	switch m.Status {
	case contract.StatusRunning:
		if a.State != StateCheckingStatus && a.State != StateSuspect {
			return nil
		}
		if err := t.sched.Cancel(ctx, a.CheckToken); err != nil {
			return err
		}
		if err := t.sched.Cancel(ctx, a.ProbeToken); err != nil {
			return err
		}
		a.CheckToken = id.Nil
		a.ProbeToken = id.Nil
		a.State = StateRunning
		a.SuspectProbes = 0
		now := time.Now().UTC()
		a.LastHeartbeat = &now
		if err := t.armLiveness(ctx, a); err != nil {
			return err
		}
		if err := t.store.UpdateAttempt(ctx, a); err != nil {
			return err
		}
		t.logger.Info("attempt liveness recovered",
			slog.String("attempt_id", a.ID.String()),
			slog.String("job_id", a.JobID.String()))
		return nil

	case contract.StatusCompleted:
		// The completion report was lost in transit; reconstruct it so
		// the job orchestrator sees the outcome.
		now := time.Now().UTC()
		var elapsed time.Duration
		if a.StartedAt != nil {
			elapsed = now.Sub(*a.StartedAt)
		}
		if err := t.finalize(ctx, a, StateCompleted, ""); err != nil {
			return err
		}
		return t.pub.Publish(ctx, contract.JobAttemptCompleted{
			AttemptID: a.ID,
			JobID:     a.JobID,
			Timestamp: now,
			Duration:  elapsed,
		})

	case contract.StatusFaulted:
		if err := t.finalize(ctx, a, StateFaulted, m.Reason); err != nil {
			return err
		}
		return t.pub.Publish(ctx, contract.JobAttemptFaulted{
			AttemptID: a.ID,
			JobID:     a.JobID,
			Timestamp: time.Now().UTC(),
			Reason:    m.Reason,
		})

	default:
		return nil
	}
}

func (t *Tracker) handleStatusCheckElapsed(ctx context.Context, m contract.StatusCheckElapsed) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State != StateCheckingStatus {
		return nil
	}

	a.CheckToken = id.Nil
	a.State = StateSuspect
	a.SuspectProbes = 1
	probeToken, err := t.sched.Schedule(ctx, t.cfg.SuspectJobRetryDelay, contract.SuspectProbeElapsed{AttemptID: a.ID})
	if err != nil {
		return fmt.Errorf("schedule suspect probe: %w", err)
	}
	a.ProbeToken = probeToken
	if err := t.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	t.logger.Warn("attempt suspect",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.String("service_address", a.ServiceAddress))

	return t.pub.Publish(ctx, contract.JobAttemptSuspect{
		AttemptID: a.ID,
		JobID:     a.JobID,
	})
}

func (t *Tracker) handleSuspectProbeElapsed(ctx context.Context, m contract.SuspectProbeElapsed) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State != StateSuspect {
		return nil
	}

	if a.SuspectProbes >= t.cfg.SuspectJobRetryCount {
		reason := "attempt liveness lost"
		if err := t.finalize(ctx, a, StateFaulted, reason); err != nil {
			return err
		}
		t.logger.Warn("attempt presumed dead",
			slog.String("attempt_id", a.ID.String()),
			slog.String("job_id", a.JobID.String()),
			slog.Int("probes", a.SuspectProbes))
		return t.pub.Publish(ctx, contract.JobAttemptFaulted{
			AttemptID: a.ID,
			JobID:     a.JobID,
			Timestamp: time.Now().UTC(),
			Reason:    reason,
		})
	}

	a.SuspectProbes++
	probeToken, err := t.sched.Schedule(ctx, t.cfg.SuspectJobRetryDelay, contract.SuspectProbeElapsed{AttemptID: a.ID})
	if err != nil {
		return fmt.Errorf("schedule suspect probe: %w", err)
	}
	a.ProbeToken = probeToken
	if err := t.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	return t.pub.Publish(ctx, contract.CheckJobStatus{
		AttemptID:      a.ID,
		ServiceAddress: a.ServiceAddress,
	})
}

func (t *Tracker) handleStartTimeoutElapsed(ctx context.Context, m contract.AttemptStartTimeoutElapsed) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State != StateStarting {
		return nil
	}

	a.StartToken = id.Nil
	reason := "attempt start not acknowledged"
	if err := t.finalize(ctx, a, StateFaulted, reason); err != nil {
		return err
	}

	t.logger.Warn("attempt start timed out",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.String("service_address", a.ServiceAddress))

	return t.pub.Publish(ctx, contract.JobAttemptFaulted{
		AttemptID: a.ID,
		JobID:     a.JobID,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
}

func (t *Tracker) handleJobTimeoutElapsed(ctx context.Context, m contract.JobTimeoutElapsed) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State.IsTerminal() {
		return nil
	}

	a.TimeoutToken = id.Nil
	reason := "job timeout expired"
	if err := t.finalize(ctx, a, StateFaulted, reason); err != nil {
		return err
	}

	t.logger.Warn("attempt exceeded job timeout",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.Duration("job_timeout", a.JobTimeout))

	if err := t.pub.Publish(ctx, contract.StopJobAttempt{
		AttemptID:      a.ID,
		ServiceAddress: a.ServiceAddress,
		Reason:         reason,
	}); err != nil {
		return err
	}
	return t.pub.Publish(ctx, contract.JobAttemptFaulted{
		AttemptID: a.ID,
		JobID:     a.JobID,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
}

func (t *Tracker) handleCompleted(ctx context.Context, m contract.JobAttemptCompleted) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State.IsTerminal() {
		return nil
	}
	if err := t.finalize(ctx, a, StateCompleted, ""); err != nil {
		return err
	}
	t.logger.Debug("attempt completed",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.Duration("duration", m.Duration))
	return nil
}

func (t *Tracker) handleFaulted(ctx context.Context, m contract.JobAttemptFaulted) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State.IsTerminal() {
		return nil
	}
	if err := t.finalize(ctx, a, StateFaulted, m.Reason); err != nil {
		return err
	}
	t.logger.Debug("attempt faulted",
		slog.String("attempt_id", a.ID.String()),
		slog.String("job_id", a.JobID.String()),
		slog.String("reason", m.Reason))
	return nil
}

func (t *Tracker) handleStop(ctx context.Context, m contract.StopJobAttempt) error {
	a, err := t.store.GetAttempt(ctx, m.AttemptID)
	if err != nil {
		return swallowNotFound(err)
	}
	if a.State.IsTerminal() {
		return nil
	}
	if err := t.finalize(ctx, a, StateStopped, m.Reason); err != nil {
		return err
	}
	t.logger.Debug("attempt stopped",
		slog.String("attempt_id", a.ID.String()),
		slog.String("reason", m.Reason))
	return nil
}

// ──────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────

func (t *Tracker) armLiveness(ctx context.Context, a *Attempt) error {
	token, err := t.sched.Schedule(ctx, t.cfg.HeartbeatTimeout, contract.AttemptLivenessElapsed{AttemptID: a.ID})
	if err != nil {
		return fmt.Errorf("schedule liveness timeout: %w", err)
	}
	a.LivenessToken = token
	return nil
}

// finalize moves the attempt to a terminal state, disarms every timer and
// releases the worker's attempt reservation exactly once. Callers must
// have verified the attempt is not already terminal.
func (t *Tracker) finalize(ctx context.Context, a *Attempt, state State, reason string) error {
	for _, token := range []timer.Token{a.StartToken, a.LivenessToken, a.CheckToken, a.ProbeToken, a.TimeoutToken} {
		if err := t.sched.Cancel(ctx, token); err != nil {
			return err
		}
	}
	a.StartToken = id.Nil
	a.LivenessToken = id.Nil
	a.CheckToken = id.Nil
	a.ProbeToken = id.Nil
	a.TimeoutToken = id.Nil
	a.State = state
	a.Reason = reason

	if err := t.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	return t.pub.Publish(ctx, contract.ReleaseAttemptReservation{
		JobType:        a.JobType,
		ServiceAddress: a.ServiceAddress,
		AttemptID:      a.ID,
	})
}

// swallowNotFound drops lookups for attempts that no longer exist;
// redelivered or late messages can outlive the record.
func swallowNotFound(err error) error {
	if errors.Is(err, steward.ErrAttemptNotFound) {
		return nil
	}
	return err
}
