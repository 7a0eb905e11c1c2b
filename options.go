package steward

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// busRunner is an internal interface for message bus lifecycle.
type busRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Coordinator is the central entry point for the orchestration protocol:
// job submission, slot allocation, attempt supervision, and recurrence.
//
// Create one with New() and functional options. The Coordinator holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use the Build() function from the steward/engine
// package to wire everything together.
type Coordinator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	bus        busRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// SetBus sets the message bus (called by the engine package).
func (c *Coordinator) SetBus(b busRunner) { c.bus = b }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Coordinator) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins protocol event processing.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.bus == nil {
		return ErrNoBus
	}
	if err := c.bus.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the coordinator, bounding the whole sequence
// by the configured ShutdownTimeout.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()
	}
	if c.bus != nil && c.started {
		if err := c.bus.Stop(ctx); err != nil {
			c.logger.Error("bus stop error", "error", err)
		}
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend for the coordinator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithConcurrentMessageLimit sets how many protocol events may be applied
// concurrently by the bus.
func WithConcurrentMessageLimit(n int) Option {
	return func(c *Coordinator) error {
		c.config.ConcurrentMessageLimit = n
		return nil
	}
}

// WithDefaultJobLimit sets the default concurrent slot limit per job type.
func WithDefaultJobLimit(n int) Option {
	return func(c *Coordinator) error {
		c.config.ConcurrentJobLimit = n
		return nil
	}
}

// WithJobTypeLimit overrides the concurrent slot limit for a single job type.
func WithJobTypeLimit(jobType string, n int) Option {
	return func(c *Coordinator) error {
		if c.config.JobTypeLimits == nil {
			c.config.JobTypeLimits = make(map[string]int)
		}
		c.config.JobTypeLimits[jobType] = n
		return nil
	}
}

// WithDefaultJobTimeout sets the attempt execution cap used when a
// submission carries no timeout of its own.
func WithDefaultJobTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.DefaultJobTimeout = d
		return nil
	}
}

// WithSlotWaitTime sets how long a job waits before re-requesting a slot
// after a busy response.
func WithSlotWaitTime(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.SlotWaitTime = d
		return nil
	}
}

// WithHeartbeatInterval sets the expected heartbeat cadence of running
// attempts and pooled worker instances.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.HeartbeatInterval = d
		return nil
	}
}

// WithHeartbeatTimeout sets how long an attempt may go silent before its
// liveness is questioned.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.HeartbeatTimeout = d
		return nil
	}
}

// WithRetryLimit sets the number of retries granted to faulting jobs.
func WithRetryLimit(n int) Option {
	return func(c *Coordinator) error {
		c.config.RetryLimit = n
		return nil
	}
}

// WithSuspectRetry sets the separate retry budget and fixed delay used for
// suspect (liveness) failures.
func WithSuspectRetry(count int, delay time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.SuspectJobRetryCount = count
		c.config.SuspectJobRetryDelay = delay
		return nil
	}
}

// WithShutdownTimeout bounds how long Stop waits for the bus to drain and
// the store to close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithFinalizeCompleted removes completed non-recurring job records instead
// of retaining them in the Completed state.
func WithFinalizeCompleted(v bool) Option {
	return func(c *Coordinator) error {
		c.config.FinalizeCompleted = v
		return nil
	}
}
