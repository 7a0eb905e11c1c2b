// Package engine wires all Steward subsystems together: it creates the
// three protocol machines, the fault log service, the middleware chain,
// and the message routing table, and provides the submission, cancel, and
// state-query API.
//
// This package exists to break the import cycle: the root steward package
// defines Entity and Config (imported by job, attempt, jobtype) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/backoff"
	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/ext"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/jobtype"
	mw "github.com/quorumhq/steward/middleware"
	"github.com/quorumhq/steward/observability"
	"github.com/quorumhq/steward/timer"
	"github.com/quorumhq/steward/worker"
)

// maxApplyAttempts bounds optimistic-concurrency retries per message.
const maxApplyAttempts = 5

// machineHandler is the Handle method shared by the protocol machines.
type machineHandler func(ctx context.Context, msg any) error

// Engine is the correlation and dispatch layer. It subscribes to the bus,
// routes each message to the machines that own it, and applies it through
// the middleware chain with bounded conflict retry.
type Engine struct {
	c     *steward.Coordinator
	b     bus.Bus
	sched timer.Scheduler

	orchestrator *job.Orchestrator
	tracker      *attempt.Tracker
	allocator    *jobtype.Allocator
	faults       *faultlog.Service

	jobStore   job.Store
	extensions *ext.Registry
	bo         backoff.Strategy
	mws        []mw.Middleware
	chain      mw.Middleware
	logger     *slog.Logger
	unsub      func()

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// defaults.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for faulted jobs.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Coordinator, a bus, and a timer
// scheduler. The Coordinator's store must implement the job, attempt,
// jobtype, and faultlog store interfaces.
func Build(c *steward.Coordinator, b bus.Bus, sched timer.Scheduler, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, steward.ErrNoStore
	}
	if b == nil {
		return nil, steward.ErrNoBus
	}
	if sched == nil {
		return nil, steward.ErrNoScheduler
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("steward: store does not implement job.Store")
	}
	as, ok := store.(attempt.Store)
	if !ok {
		return nil, fmt.Errorf("steward: store does not implement attempt.Store")
	}
	ts, ok := store.(jobtype.Store)
	if !ok {
		return nil, fmt.Errorf("steward: store does not implement jobtype.Store")
	}
	fs, ok := store.(faultlog.Store)
	if !ok {
		return nil, fmt.Errorf("steward: store does not implement faultlog.Store")
	}

	eng := &Engine{
		c:          c,
		b:          b,
		sched:      sched,
		jobStore:   js,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	cfg := c.Config()
	if cs, ok := b.(bus.ConcurrencySetter); ok && cfg.ConcurrentMessageLimit > 0 {
		cs.SetConcurrency(cfg.ConcurrentMessageLimit)
	}
	eng.faults = faultlog.NewService(fs, b, cfg.RetryLimit)

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/quorumhq/steward/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.orchestrator = job.NewOrchestrator(js, b, sched, cfg, logger,
		job.WithBackoff(eng.bo),
		job.WithHooks(eng.extensions),
		job.WithArchiver(eng.faults),
	)
	eng.tracker = attempt.NewTracker(as, b, sched, cfg, logger)
	eng.allocator = jobtype.NewAllocator(ts, b, cfg, logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/quorumhq/steward")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/quorumhq/steward")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default chain: recover → tracing → metrics → logging, then user
	// middleware.
	all := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	all = append(all, eng.mws...)
	eng.chain = mw.Chain(all...)

	eng.unsub = b.Subscribe(eng.route)

	c.SetBus(b)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Routing and application
// ──────────────────────────────────────────────────

// route fans a message out to the machines that own it. Attempt outcome
// events go to the tracker first so its record is finalized before the
// orchestrator decides on retry or recurrence; both tolerate the other
// having seen the message already.
func (eng *Engine) route(ctx context.Context, msg any) error {
	for _, h := range eng.handlersFor(msg) {
		if err := eng.apply(ctx, msg, h); err != nil {
			return err
		}
	}
	return nil
}

func (eng *Engine) handlersFor(msg any) []machineHandler {
	switch msg.(type) {
	case contract.SubmitJob,
		contract.JobSlotResponse,
		contract.JobSlotAvailable,
		contract.JobAttemptSuspect,
		contract.ScheduledStartElapsed,
		contract.JobSlotWaitElapsed,
		contract.JobRetryDelayElapsed:
		return []machineHandler{eng.orchestrator.Handle}

	case contract.CancelJob:
		// The allocator also sees cancels so it can drop the job from
		// any waiting hint sets.
		return []machineHandler{eng.orchestrator.Handle, eng.allocator.Handle}

	case contract.StartJobAttempt,
		contract.JobAttemptHeartbeat,
		contract.JobStatusResponse,
		contract.StopJobAttempt,
		contract.AttemptStartTimeoutElapsed,
		contract.AttemptLivenessElapsed,
		contract.StatusCheckElapsed,
		contract.SuspectProbeElapsed,
		contract.JobTimeoutElapsed:
		return []machineHandler{eng.tracker.Handle}

	case contract.JobAttemptStarted,
		contract.JobAttemptCompleted,
		contract.JobAttemptFaulted:
		return []machineHandler{eng.tracker.Handle, eng.orchestrator.Handle}

	case contract.AllocateJobSlot,
		contract.ReleaseJobSlot,
		contract.ReleaseAttemptReservation,
		contract.WorkerInstanceHeartbeat:
		return []machineHandler{eng.allocator.Handle}

	default:
		// RunJob, CheckJobStatus, and acknowledgment events are consumed
		// by worker agents and clients, not by the machines.
		return nil
	}
}

// apply runs one message through the middleware chain into a machine,
// retrying on version conflicts. Each retry re-invokes the handler, which
// reloads the record and reapplies the message.
func (eng *Engine) apply(ctx context.Context, msg any, h machineHandler) error {
	return eng.chain(ctx, msg, func(ctx context.Context) error {
		var err error
		for range maxApplyAttempts {
			err = h(ctx, msg)
			if !errors.Is(err, steward.ErrVersionConflict) {
				return err
			}
		}
		return fmt.Errorf("%w: %s", steward.ErrContention, mw.Kind(msg))
	})
}

// ──────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────

// SubmitJob submits a job for orchestration. A nil JobID is assigned a
// fresh one; the ID is returned so the caller can correlate and query.
// Redelivered submissions with the same JobID are deduplicated.
func (eng *Engine) SubmitJob(ctx context.Context, m contract.SubmitJob) (id.JobID, error) {
	if m.JobType == "" {
		return id.Nil, fmt.Errorf("%w: job type is required", steward.ErrInvalidSubmission)
	}
	if m.JobID.IsNil() {
		m.JobID = id.NewJobID()
	}
	if err := eng.b.Publish(ctx, m); err != nil {
		return id.Nil, err
	}
	return m.JobID, nil
}

// CancelJob requests cancellation of a job in any non-terminal state.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) error {
	return eng.b.Publish(ctx, contract.CancelJob{JobID: jobID})
}

// GetJobState returns a read-only snapshot of a job's progress. Jobs
// pruned after completion report ErrJobNotFound.
func (eng *Engine) GetJobState(ctx context.Context, jobID id.JobID) (contract.JobState, error) {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return contract.JobState{}, err
	}
	return j.Snapshot(), nil
}

// AttachAgent creates a worker agent bound to the engine's bus. The agent
// heartbeats at the coordinator's configured interval unless an explicit
// option overrides it. The caller owns the agent lifecycle: call Start
// after the engine is running, and Stop before shutdown.
func (eng *Engine) AttachAgent(address string, registry *worker.Registry, opts ...worker.AgentOption) *worker.Agent {
	all := make([]worker.AgentOption, 0, len(opts)+1)
	all = append(all, worker.WithHeartbeatInterval(eng.c.Config().HeartbeatInterval))
	all = append(all, opts...)
	return worker.NewAgent(address, registry, eng.b, all...)
}

// Start begins protocol event processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine: the routing subscription is
// removed and the coordinator drains the bus.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.unsub != nil {
		eng.unsub()
		eng.unsub = nil
	}
	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *steward.Coordinator { return eng.c }

// Faults returns the fault log service for inspection and replay.
func (eng *Engine) Faults() *faultlog.Service { return eng.faults }

// Scheduler returns the timer scheduler.
func (eng *Engine) Scheduler() timer.Scheduler { return eng.sched }

// Bus returns the message bus.
func (eng *Engine) Bus() bus.Bus { return eng.b }
