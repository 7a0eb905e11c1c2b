package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/timer"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*Job)}
}

func (s *memStore) CreateJob(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID.String()]; ok {
		return steward.ErrJobAlreadyExists
	}
	cp := *j
	s.jobs[j.ID.String()] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, jobID id.JobID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, steward.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateJob(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[j.ID.String()]
	if !ok {
		return steward.ErrJobNotFound
	}
	if cur.Version != j.Version {
		return steward.ErrVersionConflict
	}
	cp := *j
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	s.jobs[j.ID.String()] = &cp
	j.Version = cp.Version
	return nil
}

func (s *memStore) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID.String())
	return nil
}

func (s *memStore) ListJobsByState(_ context.Context, state State, _ ListOpts) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.State == state {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

type capturePub struct {
	mu   sync.Mutex
	msgs []any
}

func (p *capturePub) Publish(_ context.Context, msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePub) all() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.msgs...)
}

type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[string]any
	canceled int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[string]any)}
}

func (s *fakeScheduler) Schedule(_ context.Context, _ time.Duration, msg any) (timer.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := id.NewTimerID()
	s.armed[token.String()] = msg
	return token, nil
}

func (s *fakeScheduler) Cancel(_ context.Context, token timer.Token) error {
	if token.IsNil() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.armed[token.String()]; ok {
		delete(s.armed, token.String())
		s.canceled++
	}
	return nil
}

type memArchiver struct {
	mu      sync.Mutex
	entries []string
}

func (a *memArchiver) Archive(_ context.Context, j *Job, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, j.ID.String()+": "+reason)
	return nil
}

func countOf[T any](msgs []any) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

func lastOf[T any](t *testing.T, msgs []any) T {
	t.Helper()
	var out T
	found := false
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = v
			found = true
		}
	}
	if !found {
		t.Fatalf("no %T published", out)
	}
	return out
}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type orchHarness struct {
	orch     *Orchestrator
	store    *memStore
	pub      *capturePub
	sched    *fakeScheduler
	archiver *memArchiver
	cfg      steward.Config
}

func newOrchHarness(t *testing.T, mutate func(*steward.Config)) *orchHarness {
	t.Helper()
	store := newMemStore()
	pub := &capturePub{}
	sched := newFakeScheduler()
	archiver := &memArchiver{}
	cfg := steward.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	orch := NewOrchestrator(store, pub, sched, cfg, slog.New(slog.DiscardHandler), WithArchiver(archiver))
	return &orchHarness{orch: orch, store: store, pub: pub, sched: sched, archiver: archiver, cfg: cfg}
}

func (h *orchHarness) handle(t *testing.T, msg any) {
	t.Helper()
	if err := h.orch.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle(%T): %v", msg, err)
	}
}

func (h *orchHarness) submit(t *testing.T) id.JobID {
	t.Helper()
	jobID := id.NewJobID()
	h.handle(t, contract.SubmitJob{
		JobID:     jobID,
		JobType:   "send-report",
		Arguments: map[string]any{"month": "2026-08"},
	})
	return jobID
}

// submitGranted drives a job through submission and a granted slot.
func (h *orchHarness) submitGranted(t *testing.T) (id.JobID, id.AttemptID) {
	t.Helper()
	jobID := h.submit(t)
	h.handle(t, contract.JobSlotResponse{
		JobID:          jobID,
		JobType:        "send-report",
		Granted:        true,
		ServiceAddress: "10.0.0.5:9000",
	})
	start := lastOf[contract.StartJobAttempt](t, h.pub.all())
	return jobID, start.AttemptID
}

// submitStarted additionally acknowledges the attempt.
func (h *orchHarness) submitStarted(t *testing.T) (id.JobID, id.AttemptID) {
	t.Helper()
	jobID, attemptID := h.submitGranted(t)
	h.handle(t, contract.JobAttemptStarted{
		AttemptID: attemptID,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	})
	return jobID, attemptID
}

func (h *orchHarness) mustGet(t *testing.T, jobID id.JobID) *Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

func TestOrchestratorSubmit(t *testing.T) {
	t.Run("acknowledges and requests a slot", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)

		j := h.mustGet(t, jobID)
		if j.State != StateAllocatingJobSlot {
			t.Fatalf("state = %s, want %s", j.State, StateAllocatingJobSlot)
		}
		if j.JobTimeout != h.cfg.DefaultJobTimeout {
			t.Fatalf("timeout = %v, want default %v", j.JobTimeout, h.cfg.DefaultJobTimeout)
		}

		msgs := h.pub.all()
		if countOf[contract.JobSubmissionAccepted](msgs) != 1 {
			t.Fatal("expected one acknowledgement")
		}
		alloc := lastOf[contract.AllocateJobSlot](t, msgs)
		if alloc.JobType != "send-report" {
			t.Fatalf("AllocateJobSlot = %+v", alloc)
		}
	})

	t.Run("rejects a submission without id or type", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		err := h.orch.Handle(context.Background(), contract.SubmitJob{JobType: "send-report"})
		if !errors.Is(err, steward.ErrInvalidSubmission) {
			t.Fatalf("err = %v, want ErrInvalidSubmission", err)
		}
		err = h.orch.Handle(context.Background(), contract.SubmitJob{JobID: id.NewJobID()})
		if !errors.Is(err, steward.ErrInvalidSubmission) {
			t.Fatalf("err = %v, want ErrInvalidSubmission", err)
		}
	})

	t.Run("redelivered submission only re-acknowledges", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)
		h.handle(t, contract.SubmitJob{JobID: jobID, JobType: "send-report"})

		msgs := h.pub.all()
		if got := countOf[contract.JobSubmissionAccepted](msgs); got != 2 {
			t.Fatalf("acknowledgements = %d, want 2", got)
		}
		if got := countOf[contract.AllocateJobSlot](msgs); got != 1 {
			t.Fatalf("slot requests = %d, want 1", got)
		}
	})

	t.Run("future start date arms the start timer", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := id.NewJobID()
		start := time.Now().UTC().Add(time.Hour)
		h.handle(t, contract.SubmitJob{
			JobID:     jobID,
			JobType:   "send-report",
			StartDate: &start,
		})

		j := h.mustGet(t, jobID)
		if j.State != StateSubmitted {
			t.Fatalf("state = %s, want %s", j.State, StateSubmitted)
		}
		if j.SlotWaitToken.IsNil() {
			t.Fatal("start timer should be armed")
		}
		if countOf[contract.AllocateJobSlot](h.pub.all()) != 0 {
			t.Fatal("no slot request before the start date")
		}

		h.handle(t, contract.ScheduledStartElapsed{JobID: jobID})
		j = h.mustGet(t, jobID)
		if j.State != StateAllocatingJobSlot {
			t.Fatalf("state = %s, want %s", j.State, StateAllocatingJobSlot)
		}
	})

	t.Run("recurring submission schedules the first occurrence", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := id.NewJobID()
		h.handle(t, contract.SubmitJob{
			JobID:          jobID,
			JobType:        "send-report",
			CronExpression: "0 9 * * *",
		})

		j := h.mustGet(t, jobID)
		if j.State != StateSubmitted {
			t.Fatalf("state = %s, want %s", j.State, StateSubmitted)
		}
		if j.NextStartDate == nil {
			t.Fatal("NextStartDate should be set")
		}
	})

	t.Run("rejects a malformed cron expression", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		err := h.orch.Handle(context.Background(), contract.SubmitJob{
			JobID:          id.NewJobID(),
			JobType:        "send-report",
			CronExpression: "not a cron",
		})
		if !errors.Is(err, steward.ErrInvalidSubmission) {
			t.Fatalf("err = %v, want ErrInvalidSubmission", err)
		}
	})

	t.Run("expired recurrence window records a canceled job", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := id.NewJobID()
		end := time.Now().UTC().Add(-time.Hour)
		h.handle(t, contract.SubmitJob{
			JobID:          jobID,
			JobType:        "send-report",
			CronExpression: "0 9 * * *",
			EndDate:        &end,
		})

		j := h.mustGet(t, jobID)
		if j.State != StateCanceled {
			t.Fatalf("state = %s, want %s", j.State, StateCanceled)
		}
		if j.Reason != "recurrence window expired" {
			t.Fatalf("reason = %q", j.Reason)
		}
		if countOf[contract.JobSubmissionAccepted](h.pub.all()) != 1 {
			t.Fatal("submission should still be acknowledged")
		}
	})
}

// ──────────────────────────────────────────────────
// Slot allocation
// ──────────────────────────────────────────────────

func TestOrchestratorSlots(t *testing.T) {
	t.Run("denial parks the job waiting for a slot", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)

		h.handle(t, contract.JobSlotResponse{JobID: jobID, JobType: "send-report", Granted: false})
		j := h.mustGet(t, jobID)
		if j.State != StateWaitingForSlot {
			t.Fatalf("state = %s, want %s", j.State, StateWaitingForSlot)
		}
		if j.SlotWaitToken.IsNil() {
			t.Fatal("slot wait timer should be armed")
		}
	})

	t.Run("availability hint re-requests immediately", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)
		h.handle(t, contract.JobSlotResponse{JobID: jobID, JobType: "send-report", Granted: false})

		h.handle(t, contract.JobSlotAvailable{JobType: "send-report", JobID: jobID})
		j := h.mustGet(t, jobID)
		if j.State != StateAllocatingJobSlot {
			t.Fatalf("state = %s, want %s", j.State, StateAllocatingJobSlot)
		}
		if h.sched.canceled != 1 {
			t.Fatalf("canceled timers = %d, want 1", h.sched.canceled)
		}
		if got := countOf[contract.AllocateJobSlot](h.pub.all()); got != 2 {
			t.Fatalf("slot requests = %d, want 2", got)
		}
	})

	t.Run("slot wait expiry re-requests", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)
		h.handle(t, contract.JobSlotResponse{JobID: jobID, JobType: "send-report", Granted: false})

		h.handle(t, contract.JobSlotWaitElapsed{JobID: jobID})
		j := h.mustGet(t, jobID)
		if j.State != StateAllocatingJobSlot {
			t.Fatalf("state = %s, want %s", j.State, StateAllocatingJobSlot)
		}
	})

	t.Run("grant binds an attempt and dispatches it", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitGranted(t)

		j := h.mustGet(t, jobID)
		if j.State != StateStartingJobAttempt {
			t.Fatalf("state = %s, want %s", j.State, StateStartingJobAttempt)
		}
		if j.AttemptID.IsNil() || j.AttemptID != attemptID {
			t.Fatalf("attempt binding = %s", j.AttemptID)
		}
		if j.ServiceAddress != "10.0.0.5:9000" {
			t.Fatalf("service address = %q", j.ServiceAddress)
		}
	})

	t.Run("stray grant is returned", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)
		h.handle(t, contract.CancelJob{JobID: jobID})

		h.handle(t, contract.JobSlotResponse{
			JobID:          jobID,
			JobType:        "send-report",
			Granted:        true,
			ServiceAddress: "10.0.0.5:9000",
		})
		release := lastOf[contract.ReleaseJobSlot](t, h.pub.all())
		if release.JobID != jobID {
			t.Fatalf("ReleaseJobSlot = %+v", release)
		}
		j := h.mustGet(t, jobID)
		if j.State != StateCanceled {
			t.Fatalf("state = %s, want %s", j.State, StateCanceled)
		}
	})

	t.Run("redelivered grant for a held slot is a no-op", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)

		// At-least-once transport: the allocator answers a repeated slot
		// request with the original grant while the attempt is running.
		h.handle(t, contract.JobSlotResponse{
			JobID:          jobID,
			JobType:        "send-report",
			Granted:        true,
			ServiceAddress: "10.0.0.5:9000",
		})
		if countOf[contract.ReleaseJobSlot](h.pub.all()) != 0 {
			t.Fatal("a redelivered grant must not release the held slot")
		}
		j := h.mustGet(t, jobID)
		if j.State != StateStarted || j.AttemptID != attemptID {
			t.Fatalf("job = %s/%s, want unchanged binding", j.State, j.AttemptID)
		}
		if countOf[contract.StartJobAttempt](h.pub.all()) != 1 {
			t.Fatal("no second attempt may be dispatched")
		}
	})

	t.Run("redelivered grant while starting is a no-op", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitGranted(t)

		h.handle(t, contract.JobSlotResponse{
			JobID:          jobID,
			JobType:        "send-report",
			Granted:        true,
			ServiceAddress: "10.0.0.5:9000",
		})
		if countOf[contract.ReleaseJobSlot](h.pub.all()) != 0 {
			t.Fatal("a redelivered grant must not release the held slot")
		}
		j := h.mustGet(t, jobID)
		if j.State != StateStartingJobAttempt || j.AttemptID != attemptID {
			t.Fatalf("job = %s/%s, want unchanged binding", j.State, j.AttemptID)
		}
	})

	t.Run("grant while waiting to retry is returned", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)
		h.handle(t, contract.JobAttemptSuspect{AttemptID: attemptID, JobID: jobID})

		// The suspect path already gave the slot back; a grant landing now
		// belongs to no one.
		h.handle(t, contract.JobSlotResponse{
			JobID:          jobID,
			JobType:        "send-report",
			Granted:        true,
			ServiceAddress: "10.0.0.5:9000",
		})
		if got := countOf[contract.ReleaseJobSlot](h.pub.all()); got != 2 {
			t.Fatalf("slot releases = %d, want 2", got)
		}
		j := h.mustGet(t, jobID)
		if j.State != StateWaitingToRetry {
			t.Fatalf("state = %s, want %s", j.State, StateWaitingToRetry)
		}
	})

	t.Run("grant for a deleted job is returned", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		ghost := id.NewJobID()
		h.handle(t, contract.JobSlotResponse{
			JobID:          ghost,
			JobType:        "send-report",
			Granted:        true,
			ServiceAddress: "10.0.0.5:9000",
		})
		release := lastOf[contract.ReleaseJobSlot](t, h.pub.all())
		if release.JobID != ghost {
			t.Fatalf("ReleaseJobSlot = %+v", release)
		}
	})
}

// ──────────────────────────────────────────────────
// Attempt outcomes
// ──────────────────────────────────────────────────

func TestOrchestratorOutcomes(t *testing.T) {
	t.Run("started stamps the first start only", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)

		j := h.mustGet(t, jobID)
		if j.State != StateStarted {
			t.Fatalf("state = %s, want %s", j.State, StateStarted)
		}
		first := j.Started

		h.handle(t, contract.JobAttemptStarted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: time.Now().UTC().Add(time.Minute),
		})
		j = h.mustGet(t, jobID)
		if !j.Started.Equal(*first) {
			t.Fatal("Started should not move on a duplicate acknowledgement")
		}
	})

	t.Run("started for a stale attempt is ignored", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, _ := h.submitGranted(t)

		h.handle(t, contract.JobAttemptStarted{
			AttemptID: id.NewAttemptID(),
			JobID:     jobID,
			Timestamp: time.Now().UTC(),
		})
		j := h.mustGet(t, jobID)
		if j.State != StateStartingJobAttempt {
			t.Fatalf("state = %s, want %s", j.State, StateStartingJobAttempt)
		}
	})

	t.Run("completion finalizes and releases the slot", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: time.Now().UTC(),
			Duration:  2 * time.Second,
		})
		j := h.mustGet(t, jobID)
		if j.State != StateCompleted {
			t.Fatalf("state = %s, want %s", j.State, StateCompleted)
		}
		if j.Duration != 2*time.Second || j.Completed == nil {
			t.Fatalf("completion bookkeeping = %v/%v", j.Duration, j.Completed)
		}
		if countOf[contract.ReleaseJobSlot](h.pub.all()) != 1 {
			t.Fatal("expected one slot release")
		}
	})

	t.Run("completion before the start acknowledgement backfills Started", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitGranted(t)

		// The worker's start report lost the dispatch race against its
		// completion report.
		ts := time.Now().UTC()
		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: ts,
			Duration:  3 * time.Second,
		})
		j := h.mustGet(t, jobID)
		if j.State != StateCompleted {
			t.Fatalf("state = %s, want %s", j.State, StateCompleted)
		}
		if j.Started == nil {
			t.Fatal("Started should be derived from the completion report")
		}
		if !j.Started.Equal(ts.Add(-3 * time.Second)) {
			t.Fatalf("Started = %v, want %v", j.Started, ts.Add(-3*time.Second))
		}
		if j.Started.After(*j.Completed) {
			t.Fatal("Started must not be after Completed")
		}
	})

	t.Run("fault before the start acknowledgement backfills Started", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitGranted(t)

		ts := time.Now().UTC()
		h.handle(t, contract.JobAttemptFaulted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: ts,
			Reason:    "worker panic",
		})
		j := h.mustGet(t, jobID)
		if j.Started == nil || !j.Started.Equal(ts) {
			t.Fatalf("Started = %v, want %v", j.Started, ts)
		}
	})

	t.Run("finalize completed deletes the record", func(t *testing.T) {
		h := newOrchHarness(t, func(c *steward.Config) { c.FinalizeCompleted = true })
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: time.Now().UTC(),
		})
		if _, err := h.store.GetJob(context.Background(), jobID); !errors.Is(err, steward.ErrJobNotFound) {
			t.Fatalf("err = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("late completion beats a pending retry", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)
		h.handle(t, contract.JobAttemptSuspect{AttemptID: attemptID, JobID: jobID})

		j := h.mustGet(t, jobID)
		if j.State != StateWaitingToRetry {
			t.Fatalf("state = %s, want %s", j.State, StateWaitingToRetry)
		}

		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: time.Now().UTC(),
		})
		j = h.mustGet(t, jobID)
		if j.State != StateCompleted {
			t.Fatalf("state = %s, want %s", j.State, StateCompleted)
		}
		if !j.RetryDelayToken.IsNil() {
			t.Fatal("retry timer should be disarmed")
		}
	})

	t.Run("fault schedules a retry until the limit", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.JobAttemptFaulted{
			AttemptID: attemptID,
			JobID:     jobID,
			Timestamp: time.Now().UTC(),
			Reason:    "worker panic",
		})
		j := h.mustGet(t, jobID)
		if j.State != StateWaitingToRetry {
			t.Fatalf("state = %s, want %s", j.State, StateWaitingToRetry)
		}
		if j.RetryAttempt != 1 {
			t.Fatalf("RetryAttempt = %d, want 1", j.RetryAttempt)
		}
		if j.RetryDelayToken.IsNil() {
			t.Fatal("retry timer should be armed")
		}
	})

	t.Run("retry budget exhaustion faults terminally and archives", func(t *testing.T) {
		h := newOrchHarness(t, func(c *steward.Config) { c.RetryLimit = 1 })
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.JobAttemptFaulted{
			AttemptID: attemptID, JobID: jobID,
			Timestamp: time.Now().UTC(), Reason: "worker panic",
		})
		h.handle(t, contract.JobRetryDelayElapsed{JobID: jobID})

		// Second attempt, second fault: the budget is spent.
		h.handle(t, contract.JobSlotResponse{
			JobID: jobID, JobType: "send-report",
			Granted: true, ServiceAddress: "10.0.0.6:9000",
		})
		start := lastOf[contract.StartJobAttempt](t, h.pub.all())
		h.handle(t, contract.JobAttemptFaulted{
			AttemptID: start.AttemptID, JobID: jobID,
			Timestamp: time.Now().UTC(), Reason: "worker panic",
		})

		j := h.mustGet(t, jobID)
		if j.State != StateFaulted {
			t.Fatalf("state = %s, want %s", j.State, StateFaulted)
		}
		if len(h.archiver.entries) != 1 {
			t.Fatalf("archived entries = %d, want 1", len(h.archiver.entries))
		}
	})

	t.Run("completion after an earlier fault clears the fault stamp", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.JobAttemptFaulted{
			AttemptID: attemptID, JobID: jobID,
			Timestamp: time.Now().UTC(), Reason: "worker panic",
		})
		h.handle(t, contract.JobRetryDelayElapsed{JobID: jobID})
		h.handle(t, contract.JobSlotResponse{
			JobID: jobID, JobType: "send-report",
			Granted: true, ServiceAddress: "10.0.0.6:9000",
		})
		start := lastOf[contract.StartJobAttempt](t, h.pub.all())
		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: start.AttemptID, JobID: jobID,
			Timestamp: time.Now().UTC(), Duration: time.Second,
		})

		j := h.mustGet(t, jobID)
		if j.State != StateCompleted {
			t.Fatalf("state = %s, want %s", j.State, StateCompleted)
		}
		if j.Faulted != nil {
			t.Fatalf("Faulted = %v, want cleared on completion", j.Faulted)
		}
		if j.Completed == nil {
			t.Fatal("Completed should be stamped")
		}
	})

	t.Run("retry dispatch stops the superseded attempt", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)
		h.handle(t, contract.JobAttemptSuspect{AttemptID: attemptID, JobID: jobID})

		h.handle(t, contract.JobRetryDelayElapsed{JobID: jobID})
		stop := lastOf[contract.StopJobAttempt](t, h.pub.all())
		if stop.AttemptID != attemptID || stop.Reason != "superseded by retry" {
			t.Fatalf("StopJobAttempt = %+v", stop)
		}
		j := h.mustGet(t, jobID)
		if j.State != StateAllocatingJobSlot {
			t.Fatalf("state = %s, want %s", j.State, StateAllocatingJobSlot)
		}
		if !j.AttemptID.IsNil() {
			t.Fatal("attempt binding should be cleared")
		}
	})

	t.Run("suspect budget exhaustion faults terminally", func(t *testing.T) {
		h := newOrchHarness(t, func(c *steward.Config) { c.SuspectJobRetryCount = 1 })
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.JobAttemptSuspect{AttemptID: attemptID, JobID: jobID})
		h.handle(t, contract.JobRetryDelayElapsed{JobID: jobID})
		h.handle(t, contract.JobSlotResponse{
			JobID: jobID, JobType: "send-report",
			Granted: true, ServiceAddress: "10.0.0.6:9000",
		})
		start := lastOf[contract.StartJobAttempt](t, h.pub.all())
		h.handle(t, contract.JobAttemptSuspect{AttemptID: start.AttemptID, JobID: jobID})

		j := h.mustGet(t, jobID)
		if j.State != StateFaulted {
			t.Fatalf("state = %s, want %s", j.State, StateFaulted)
		}
		if j.Reason != "job attempt suspect: liveness probes exhausted" {
			t.Fatalf("reason = %q", j.Reason)
		}
	})

	t.Run("duplicate fault while waiting to retry is ignored", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)
		fault := contract.JobAttemptFaulted{
			AttemptID: attemptID, JobID: jobID,
			Timestamp: time.Now().UTC(), Reason: "worker panic",
		}
		h.handle(t, fault)
		h.handle(t, fault)

		j := h.mustGet(t, jobID)
		if j.RetryAttempt != 1 {
			t.Fatalf("RetryAttempt = %d, want 1", j.RetryAttempt)
		}
	})
}

// ──────────────────────────────────────────────────
// Recurrence
// ──────────────────────────────────────────────────

func TestOrchestratorRecurrence(t *testing.T) {
	submitRecurring := func(t *testing.T, h *orchHarness, end *time.Time) id.JobID {
		t.Helper()
		jobID := id.NewJobID()
		start := time.Now().UTC().Add(-time.Hour)
		h.handle(t, contract.SubmitJob{
			JobID:          jobID,
			JobType:        "send-report",
			CronExpression: "*/5 * * * *",
			StartDate:      &start,
			EndDate:        end,
		})
		return jobID
	}

	runOnce := func(t *testing.T, h *orchHarness, jobID id.JobID) {
		t.Helper()
		h.handle(t, contract.ScheduledStartElapsed{JobID: jobID})
		h.handle(t, contract.JobSlotResponse{
			JobID: jobID, JobType: "send-report",
			Granted: true, ServiceAddress: "10.0.0.5:9000",
		})
		start := lastOf[contract.StartJobAttempt](t, h.pub.all())
		h.handle(t, contract.JobAttemptStarted{AttemptID: start.AttemptID, JobID: jobID, Timestamp: time.Now().UTC()})
		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: start.AttemptID, JobID: jobID,
			Timestamp: time.Now().UTC(), Duration: time.Second,
		})
	}

	t.Run("completion reschedules the next occurrence", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := submitRecurring(t, h, nil)
		runOnce(t, h, jobID)

		j := h.mustGet(t, jobID)
		if j.State != StateSubmitted {
			t.Fatalf("state = %s, want %s", j.State, StateSubmitted)
		}
		if j.NextStartDate == nil || !j.NextStartDate.After(time.Now().UTC()) {
			t.Fatalf("NextStartDate = %v", j.NextStartDate)
		}
		if j.RetryAttempt != 0 || j.SuspectRetryAttempt != 0 {
			t.Fatal("retry counters should reset between occurrences")
		}
		if !j.AttemptID.IsNil() || j.ServiceAddress != "" {
			t.Fatal("attempt binding should be cleared between occurrences")
		}
		if j.SlotWaitToken.IsNil() {
			t.Fatal("next occurrence timer should be armed")
		}
	})

	t.Run("completion past the end date finalizes the job", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		end := time.Now().UTC().Add(10 * time.Minute)
		jobID := submitRecurring(t, h, &end)

		h.handle(t, contract.ScheduledStartElapsed{JobID: jobID})
		h.handle(t, contract.JobSlotResponse{
			JobID: jobID, JobType: "send-report",
			Granted: true, ServiceAddress: "10.0.0.5:9000",
		})
		start := lastOf[contract.StartJobAttempt](t, h.pub.all())
		// The run finishes after the window closed.
		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: start.AttemptID, JobID: jobID,
			Timestamp: end.Add(time.Hour), Duration: time.Second,
		})

		j := h.mustGet(t, jobID)
		if j.State != StateCompleted {
			t.Fatalf("state = %s, want %s", j.State, StateCompleted)
		}
	})
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestOrchestratorCancel(t *testing.T) {
	t.Run("cancels a waiting job and disarms its timer", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID := h.submit(t)
		h.handle(t, contract.JobSlotResponse{JobID: jobID, JobType: "send-report", Granted: false})

		h.handle(t, contract.CancelJob{JobID: jobID})
		j := h.mustGet(t, jobID)
		if j.State != StateCanceled {
			t.Fatalf("state = %s, want %s", j.State, StateCanceled)
		}
		if h.sched.canceled != 1 {
			t.Fatalf("canceled timers = %d, want 1", h.sched.canceled)
		}
	})

	t.Run("cancels a running job, releasing slot and stopping the attempt", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)

		h.handle(t, contract.CancelJob{JobID: jobID})
		msgs := h.pub.all()
		if countOf[contract.ReleaseJobSlot](msgs) != 1 {
			t.Fatal("expected one slot release")
		}
		stop := lastOf[contract.StopJobAttempt](t, msgs)
		if stop.AttemptID != attemptID || stop.Reason != "job canceled" {
			t.Fatalf("StopJobAttempt = %+v", stop)
		}
	})

	t.Run("cancel of a terminal job is a no-op", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		jobID, attemptID := h.submitStarted(t)
		h.handle(t, contract.JobAttemptCompleted{
			AttemptID: attemptID, JobID: jobID, Timestamp: time.Now().UTC(),
		})

		h.handle(t, contract.CancelJob{JobID: jobID})
		j := h.mustGet(t, jobID)
		if j.State != StateCompleted {
			t.Fatalf("state = %s, want %s", j.State, StateCompleted)
		}
	})

	t.Run("cancel of an unknown job is dropped", func(t *testing.T) {
		h := newOrchHarness(t, nil)
		h.handle(t, contract.CancelJob{JobID: id.NewJobID()})
	})
}
