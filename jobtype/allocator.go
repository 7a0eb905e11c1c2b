package jobtype

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
)

// Allocator answers slot requests for every job type. It owns the job
// type record: the concurrency limit, the set of live worker instances,
// the jobs currently holding slots, and the waiting list it hints when
// capacity frees up.
type Allocator struct {
	store  Store
	pub    bus.Publisher
	cfg    steward.Config
	logger *slog.Logger

	// Availability hints are throttled per job type so a burst of slot
	// releases does not flood the bus; the waiting jobs' own slot-wait
	// timers cover any hint the throttle suppresses.
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAllocator builds a slot allocator.
func NewAllocator(store Store, pub bus.Publisher, cfg steward.Config, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		store:    store,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handle dispatches a single protocol message. Messages the allocator
// does not own are ignored.
func (a *Allocator) Handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case contract.AllocateJobSlot:
		return a.handleAllocate(ctx, m)
	case contract.ReleaseJobSlot:
		return a.handleRelease(ctx, m)
	case contract.ReleaseAttemptReservation:
		return a.handleReleaseReservation(ctx, m)
	case contract.WorkerInstanceHeartbeat:
		return a.handleWorkerHeartbeat(ctx, m)
	case contract.CancelJob:
		return a.handleCancel(ctx, m)
	default:
		return nil
	}
}

// ──────────────────────────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────────────────────────

func (a *Allocator) handleAllocate(ctx context.Context, m contract.AllocateJobSlot) error {
	jt, err := a.load(ctx, m.JobType)
	if err != nil {
		return err
	}
	a.pruneInstances(jt)

	jobID := m.JobID.String()

	// A redelivered request for a job that already holds a slot gets the
	// original grant again.
	if addr, ok := jt.ActiveJobs[jobID]; ok {
		return a.pub.Publish(ctx, contract.JobSlotResponse{
			JobID:          m.JobID,
			JobType:        m.JobType,
			Granted:        true,
			ServiceAddress: addr,
		})
	}

	addr := a.pickInstance(jt)
	if !jt.HasCapacity() || addr == "" {
		jt.enqueueWaiting(jobID)
		jt.refreshState()
		if err := a.store.UpdateJobType(ctx, jt); err != nil {
			return err
		}
		a.logger.Debug("slot denied",
			slog.String("job_type", jt.Name),
			slog.String("job_id", jobID),
			slog.Int("consumed", jt.Consumed()),
			slog.Int("limit", jt.Limit),
			slog.Bool("instance_available", addr != ""))
		return a.pub.Publish(ctx, contract.JobSlotResponse{
			JobID:   m.JobID,
			JobType: m.JobType,
			Granted: false,
		})
	}

	jt.ActiveJobs[jobID] = addr
	jt.Instances[addr].Active++
	jt.removeWaiting(jobID)
	jt.refreshState()
	if err := a.store.UpdateJobType(ctx, jt); err != nil {
		return err
	}

	a.logger.Debug("slot granted",
		slog.String("job_type", jt.Name),
		slog.String("job_id", jobID),
		slog.String("service_address", addr),
		slog.Int("consumed", jt.Consumed()),
		slog.Int("limit", jt.Limit))

	return a.pub.Publish(ctx, contract.JobSlotResponse{
		JobID:          m.JobID,
		JobType:        m.JobType,
		Granted:        true,
		ServiceAddress: addr,
	})
}

func (a *Allocator) handleRelease(ctx context.Context, m contract.ReleaseJobSlot) error {
	jt, err := a.load(ctx, m.JobType)
	if err != nil {
		return err
	}

	jobID := m.JobID.String()
	if _, held := jt.ActiveJobs[jobID]; !held {
		// Duplicate release. The waiting list may still hold the job if
		// it was canceled while queued.
		jt.removeWaiting(jobID)
		jt.refreshState()
		return a.store.UpdateJobType(ctx, jt)
	}

	delete(jt.ActiveJobs, jobID)
	jt.removeWaiting(jobID)
	jt.refreshState()
	next := ""
	if jt.HasCapacity() {
		next = jt.dequeueWaiting()
	}
	if err := a.store.UpdateJobType(ctx, jt); err != nil {
		return err
	}

	a.logger.Debug("slot released",
		slog.String("job_type", jt.Name),
		slog.String("job_id", jobID),
		slog.Int("consumed", jt.Consumed()))

	return a.hintAvailable(ctx, jt.Name, next)
}

func (a *Allocator) handleReleaseReservation(ctx context.Context, m contract.ReleaseAttemptReservation) error {
	jt, err := a.load(ctx, m.JobType)
	if err != nil {
		return err
	}
	inst, ok := jt.Instances[m.ServiceAddress]
	if !ok {
		return nil
	}
	if inst.Active > 0 {
		inst.Active--
	}
	return a.store.UpdateJobType(ctx, jt)
}

func (a *Allocator) handleWorkerHeartbeat(ctx context.Context, m contract.WorkerInstanceHeartbeat) error {
	jt, err := a.load(ctx, m.JobType)
	if err != nil {
		return err
	}

	inst, known := jt.Instances[m.ServiceAddress]
	if known {
		if m.Timestamp.After(inst.LastSeen) {
			inst.LastSeen = m.Timestamp.UTC()
		}
	} else {
		jt.Instances[m.ServiceAddress] = &Instance{
			Address:  m.ServiceAddress,
			LastSeen: m.Timestamp.UTC(),
		}
		a.logger.Info("worker instance registered",
			slog.String("job_type", jt.Name),
			slog.String("service_address", m.ServiceAddress))
	}
	a.pruneInstances(jt)

	// A new instance may unblock jobs that were denied for lack of a
	// live worker.
	next := ""
	if !known && jt.HasCapacity() {
		next = jt.dequeueWaiting()
	}
	if err := a.store.UpdateJobType(ctx, jt); err != nil {
		return err
	}
	return a.hintAvailable(ctx, jt.Name, next)
}

func (a *Allocator) handleCancel(ctx context.Context, m contract.CancelJob) error {
	// Drop the job from every waiting list so a later hint is not wasted
	// on it. The slot itself, if held, is released by the orchestrator.
	types, err := a.store.ListJobTypes(ctx)
	if err != nil {
		return err
	}
	jobID := m.JobID.String()
	for _, jt := range types {
		found := false
		for _, w := range jt.Waiting {
			if w == jobID {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		jt.removeWaiting(jobID)
		if err := a.store.UpdateJobType(ctx, jt); err != nil {
			return err
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────

// load fetches the job type record, creating it on first reference with
// the configured limit.
func (a *Allocator) load(ctx context.Context, name string) (*JobType, error) {
	jt, err := a.store.GetJobType(ctx, name)
	if err == nil {
		return jt, nil
	}
	if !errors.Is(err, steward.ErrJobTypeNotFound) {
		return nil, err
	}

	limit := a.cfg.ConcurrentJobLimit
	if override, ok := a.cfg.JobTypeLimits[name]; ok {
		limit = override
	}
	jt = &JobType{
		Entity:     steward.NewEntity(),
		Name:       name,
		Limit:      limit,
		State:      StateIdle,
		ActiveJobs: make(map[string]string),
		Instances:  make(map[string]*Instance),
	}
	if err := a.store.CreateJobType(ctx, jt); err != nil {
		if errors.Is(err, steward.ErrJobTypeAlreadyExists) {
			return a.store.GetJobType(ctx, name)
		}
		return nil, err
	}
	a.logger.Info("job type registered",
		slog.String("job_type", name),
		slog.Int("limit", limit))
	return jt, nil
}

// pickInstance returns the live instance with the fewest active
// reservations, or "" when none is live.
func (a *Allocator) pickInstance(jt *JobType) string {
	best := ""
	for addr, inst := range jt.Instances {
		if best == "" || inst.Active < jt.Instances[best].Active {
			best = addr
		}
	}
	return best
}

// pruneInstances drops instances that have not been seen within the
// heartbeat timeout. Slots granted against a pruned instance stay
// consumed until the attempt tracker gives up on the attempt.
func (a *Allocator) pruneInstances(jt *JobType) {
	cutoff := time.Now().UTC().Add(-a.cfg.HeartbeatTimeout)
	for addr, inst := range jt.Instances {
		if inst.LastSeen.Before(cutoff) {
			delete(jt.Instances, addr)
			a.logger.Warn("worker instance pruned",
				slog.String("job_type", jt.Name),
				slog.String("service_address", addr),
				slog.Time("last_seen", inst.LastSeen))
		}
	}
}

// hintAvailable tells a waiting job that capacity freed up, subject to
// the per-type throttle. A suppressed hint is not a lost slot: the job's
// slot-wait timer re-requests on its own.
func (a *Allocator) hintAvailable(ctx context.Context, jobType, jobID string) error {
	if jobID == "" {
		return nil
	}
	if !a.limiter(jobType).Allow() {
		a.logger.Debug("slot hint suppressed",
			slog.String("job_type", jobType),
			slog.String("job_id", jobID))
		return nil
	}
	parsed, err := id.ParseJobID(jobID)
	if err != nil {
		a.logger.Warn("discarding malformed waiting entry",
			slog.String("job_type", jobType),
			slog.String("job_id", jobID))
		return nil
	}
	return a.pub.Publish(ctx, contract.JobSlotAvailable{
		JobType: jobType,
		JobID:   parsed,
	})
}

func (a *Allocator) limiter(jobType string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[jobType]
	if !ok {
		l = rate.NewLimiter(rate.Every(250*time.Millisecond), 8)
		a.limiters[jobType] = l
	}
	return l
}
