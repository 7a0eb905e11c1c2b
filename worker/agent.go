package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
)

// outcome is the remembered result of a finished attempt, kept so a
// status probe arriving after the completion report can be answered.
type outcome struct {
	status   contract.AttemptStatus
	reason   string
	finished time.Time
}

// maxRecentOutcomes bounds the finished-attempt memory. The oldest
// entries are evicted first.
const maxRecentOutcomes = 256

// Agent is one worker instance. It consumes RunJob messages addressed to
// its service address, executes them through the handler registry,
// heartbeats while they run, and answers stop requests and status probes.
type Agent struct {
	address  string
	registry *Registry
	b        bus.Bus
	logger   *slog.Logger

	concurrency       int
	heartbeatInterval time.Duration

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	unsub   func()

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
	recent   map[string]outcome
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithConcurrency caps the number of attempts executing at once.
func WithConcurrency(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithHeartbeatInterval sets how often running attempts heartbeat.
func WithHeartbeatInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.heartbeatInterval = d
		}
	}
}

// WithLogger sets the agent's logger.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAgent creates a worker agent serving the given address.
func NewAgent(address string, registry *Registry, b bus.Bus, opts ...AgentOption) *Agent {
	a := &Agent{
		address:           address,
		registry:          registry,
		b:                 b,
		logger:            slog.Default(),
		concurrency:       10,
		heartbeatInterval: 10 * time.Second,
		stopCh:            make(chan struct{}),
		active:            make(map[string]context.CancelFunc),
		recent:            make(map[string]outcome),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.sem = make(chan struct{}, a.concurrency)
	return a
}

// Address returns the agent's service address.
func (a *Agent) Address() string { return a.address }

// Start subscribes the agent to the bus and begins announcing itself
// with instance heartbeats for every registered job type.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.unsub = a.b.Subscribe(a.handle)

	a.logger.Info("worker agent starting",
		slog.String("service_address", a.address),
		slog.Int("concurrency", a.concurrency),
		slog.Any("job_types", a.registry.JobTypes()))

	// Announce immediately so the allocator can grant against this
	// instance without waiting a full heartbeat interval.
	a.announce(ctx)

	a.wg.Add(1)
	go a.heartbeatLoop()
	return nil
}

// Stop unsubscribes, cancels running attempts, and waits for them.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	unsub := a.unsub
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(a.stopCh)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("worker agent stopped", slog.String("service_address", a.address))
	case <-ctx.Done():
		a.logger.Warn("worker agent shutdown timed out, cancelling attempts",
			slog.String("service_address", a.address))
		a.cancelActive()
		a.wg.Wait()
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────
// Message handling
// ──────────────────────────────────────────────────────────────────────

func (a *Agent) handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case contract.RunJob:
		if m.ServiceAddress != a.address {
			return nil
		}
		return a.handleRun(ctx, m)
	case contract.StopJobAttempt:
		if m.ServiceAddress != a.address {
			return nil
		}
		a.stopAttempt(m.AttemptID)
		return nil
	case contract.CheckJobStatus:
		if m.ServiceAddress != a.address {
			return nil
		}
		return a.handleStatusCheck(ctx, m)
	default:
		return nil
	}
}

func (a *Agent) handleRun(ctx context.Context, m contract.RunJob) error {
	key := m.AttemptID.String()

	a.activeMu.Lock()
	_, isActive := a.active[key]
	_, isFinished := a.recent[key]
	a.activeMu.Unlock()
	if isActive || isFinished {
		// Redelivered dispatch; the attempt is already running or done.
		return nil
	}

	handler, ok := a.registry.Get(m.JobType)
	if !ok {
		return a.b.Publish(ctx, contract.JobAttemptFaulted{
			AttemptID: m.AttemptID,
			JobID:     m.JobID,
			Timestamp: time.Now().UTC(),
			Reason:    fmt.Sprintf("no handler registered for job type %q", m.JobType),
		})
	}

	a.wg.Add(1)
	go a.run(m, handler)
	return nil
}

// run executes one attempt: acknowledge, heartbeat, invoke the handler,
// report the outcome.
func (a *Agent) run(m contract.RunJob, handler Handler) {
	defer a.wg.Done()

	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-a.stopCh:
		return
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if m.JobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), m.JobTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	key := m.AttemptID.String()
	a.trackAttempt(key, cancel)

	started := time.Now().UTC()
	if err := a.b.Publish(runCtx, contract.JobAttemptStarted{
		AttemptID: m.AttemptID,
		JobID:     m.JobID,
		Timestamp: started,
	}); err != nil {
		a.logger.Error("start acknowledgement failed",
			slog.String("attempt_id", key),
			slog.String("error", err.Error()))
	}

	hbStop := make(chan struct{})
	a.wg.Add(1)
	go a.attemptHeartbeatLoop(m.AttemptID, hbStop)

	err := a.invoke(runCtx, handler, m.Arguments)
	close(hbStop)

	finished := time.Now().UTC()
	a.untrackAttempt(key)

	if err != nil {
		a.remember(key, outcome{status: contract.StatusFaulted, reason: err.Error(), finished: finished})
		a.logger.Debug("attempt failed",
			slog.String("attempt_id", key),
			slog.String("job_type", m.JobType),
			slog.String("error", err.Error()))
		if pubErr := a.b.Publish(context.Background(), contract.JobAttemptFaulted{
			AttemptID: m.AttemptID,
			JobID:     m.JobID,
			Timestamp: finished,
			Reason:    err.Error(),
		}); pubErr != nil {
			a.logger.Error("fault report failed",
				slog.String("attempt_id", key),
				slog.String("error", pubErr.Error()))
		}
		return
	}

	a.remember(key, outcome{status: contract.StatusCompleted, finished: finished})
	if pubErr := a.b.Publish(context.Background(), contract.JobAttemptCompleted{
		AttemptID: m.AttemptID,
		JobID:     m.JobID,
		Timestamp: finished,
		Duration:  finished.Sub(started),
	}); pubErr != nil {
		a.logger.Error("completion report failed",
			slog.String("attempt_id", key),
			slog.String("error", pubErr.Error()))
	}
}

// invoke runs the handler, converting a panic into an error.
func (a *Agent) invoke(ctx context.Context, handler Handler, args map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, args)
}

func (a *Agent) handleStatusCheck(ctx context.Context, m contract.CheckJobStatus) error {
	key := m.AttemptID.String()

	a.activeMu.Lock()
	_, isActive := a.active[key]
	out, isFinished := a.recent[key]
	a.activeMu.Unlock()

	resp := contract.JobStatusResponse{AttemptID: m.AttemptID}
	switch {
	case isActive:
		resp.Status = contract.StatusRunning
	case isFinished:
		resp.Status = out.status
		resp.Reason = out.reason
	default:
		resp.Status = contract.StatusFaulted
		resp.Reason = "attempt unknown to worker"
	}
	return a.b.Publish(ctx, resp)
}

// ──────────────────────────────────────────────────────────────────────
// Heartbeats
// ──────────────────────────────────────────────────────────────────────

// heartbeatLoop announces the instance for every registered job type so
// the allocator keeps it live even when the agent is idle.
func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.announce(context.Background())
		}
	}
}

func (a *Agent) announce(ctx context.Context) {
	now := time.Now().UTC()
	for _, jobType := range a.registry.JobTypes() {
		if err := a.b.Publish(ctx, contract.WorkerInstanceHeartbeat{
			JobType:        jobType,
			ServiceAddress: a.address,
			Timestamp:      now,
		}); err != nil {
			a.logger.Warn("instance heartbeat failed",
				slog.String("job_type", jobType),
				slog.String("error", err.Error()))
		}
	}
}

// attemptHeartbeatLoop reports liveness for one running attempt.
func (a *Agent) attemptHeartbeatLoop(attemptID id.AttemptID, stop <-chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.b.Publish(context.Background(), contract.JobAttemptHeartbeat{
				AttemptID: attemptID,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				a.logger.Warn("attempt heartbeat failed",
					slog.String("attempt_id", attemptID.String()),
					slog.String("error", err.Error()))
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────
// Attempt tracking
// ──────────────────────────────────────────────────────────────────────

func (a *Agent) trackAttempt(key string, cancel context.CancelFunc) {
	a.activeMu.Lock()
	a.active[key] = cancel
	a.activeMu.Unlock()
}

func (a *Agent) untrackAttempt(key string) {
	a.activeMu.Lock()
	delete(a.active, key)
	a.activeMu.Unlock()
}

func (a *Agent) stopAttempt(attemptID id.AttemptID) {
	a.activeMu.Lock()
	cancel, ok := a.active[attemptID.String()]
	a.activeMu.Unlock()
	if ok {
		a.logger.Info("stopping attempt on request",
			slog.String("attempt_id", attemptID.String()))
		cancel()
	}
}

func (a *Agent) remember(key string, out outcome) {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	if len(a.recent) >= maxRecentOutcomes {
		oldestKey := ""
		var oldest time.Time
		for k, v := range a.recent {
			if oldestKey == "" || v.finished.Before(oldest) {
				oldestKey = k
				oldest = v.finished
			}
		}
		delete(a.recent, oldestKey)
	}
	a.recent[key] = out
}

func (a *Agent) cancelActive() {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	for key, cancel := range a.active {
		a.logger.Warn("cancelling active attempt", slog.String("attempt_id", key))
		cancel()
	}
}
