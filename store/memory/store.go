// Package memory provides a fully in-memory implementation of
// store.Store. Safe for concurrent access. Intended for unit testing and
// development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/jobtype"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store      = (*Store)(nil)
	_ attempt.Store  = (*Store)(nil)
	_ jobtype.Store  = (*Store)(nil)
	_ faultlog.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	attempts map[string]*attempt.Attempt
	jobTypes map[string]*jobtype.JobType
	faults   map[string]*faultlog.Entry

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		attempts: make(map[string]*attempt.Attempt),
		jobTypes: make(map[string]*jobtype.JobType),
		faults:   make(map[string]*faultlog.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return steward.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is retained so late reads in tests
// do not panic.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return steward.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, steward.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job via compare-and-swap on
// Version.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cur, ok := m.jobs[key]
	if !ok {
		return steward.ErrJobNotFound
	}
	if cur.Version != j.Version {
		return steward.ErrVersionConflict
	}
	cp := *j
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	j.Version = cp.Version
	j.UpdatedAt = cp.UpdatedAt
	return nil
}

// DeleteJob removes a job by ID. Deleting an absent job is a no-op.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID.String())
	return nil
}

// ListJobsByState returns jobs matching the given state, ordered by ID.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Attempt Store
// ──────────────────────────────────────────────────

// CreateAttempt persists a new attempt.
func (m *Store) CreateAttempt(_ context.Context, a *attempt.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, exists := m.attempts[key]; exists {
		return steward.ErrAttemptAlreadyExists
	}
	cp := *a
	m.attempts[key] = &cp
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (m *Store) GetAttempt(_ context.Context, attemptID id.AttemptID) (*attempt.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[attemptID.String()]
	if !ok {
		return nil, steward.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

// UpdateAttempt persists changes via compare-and-swap on Version.
func (m *Store) UpdateAttempt(_ context.Context, a *attempt.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	cur, ok := m.attempts[key]
	if !ok {
		return steward.ErrAttemptNotFound
	}
	if cur.Version != a.Version {
		return steward.ErrVersionConflict
	}
	cp := *a
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.attempts[key] = &cp
	a.Version = cp.Version
	a.UpdatedAt = cp.UpdatedAt
	return nil
}

// DeleteAttempt removes an attempt by ID. Deleting an absent attempt is
// a no-op.
func (m *Store) DeleteAttempt(_ context.Context, attemptID id.AttemptID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, attemptID.String())
	return nil
}

// ListAttemptsByState returns attempts matching the given state, ordered
// by ID.
func (m *Store) ListAttemptsByState(_ context.Context, state attempt.State, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*attempt.Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		if a.State != state {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Job Type Store
// ──────────────────────────────────────────────────

// CreateJobType persists a new job type record.
func (m *Store) CreateJobType(_ context.Context, jt *jobtype.JobType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobTypes[jt.Name]; exists {
		return steward.ErrJobTypeAlreadyExists
	}
	m.jobTypes[jt.Name] = cloneJobType(jt)
	return nil
}

// GetJobType retrieves a job type by name.
func (m *Store) GetJobType(_ context.Context, name string) (*jobtype.JobType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jt, ok := m.jobTypes[name]
	if !ok {
		return nil, steward.ErrJobTypeNotFound
	}
	return cloneJobType(jt), nil
}

// UpdateJobType persists changes via compare-and-swap on Version.
func (m *Store) UpdateJobType(_ context.Context, jt *jobtype.JobType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobTypes[jt.Name]
	if !ok {
		return steward.ErrJobTypeNotFound
	}
	if cur.Version != jt.Version {
		return steward.ErrVersionConflict
	}
	cp := cloneJobType(jt)
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.jobTypes[jt.Name] = cp
	jt.Version = cp.Version
	jt.UpdatedAt = cp.UpdatedAt
	return nil
}

// DeleteJobType removes a job type record by name. Deleting an absent
// record is a no-op.
func (m *Store) DeleteJobType(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobTypes, name)
	return nil
}

// ListJobTypes returns all job type records ordered by name.
func (m *Store) ListJobTypes(_ context.Context) ([]*jobtype.JobType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*jobtype.JobType, 0, len(m.jobTypes))
	for _, jt := range m.jobTypes {
		result = append(result, cloneJobType(jt))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})
	return result, nil
}

// cloneJobType deep-copies the record's maps so callers cannot race with
// the store through shared references.
func cloneJobType(jt *jobtype.JobType) *jobtype.JobType {
	cp := *jt
	cp.ActiveJobs = make(map[string]string, len(jt.ActiveJobs))
	for k, v := range jt.ActiveJobs {
		cp.ActiveJobs[k] = v
	}
	cp.Instances = make(map[string]*jobtype.Instance, len(jt.Instances))
	for k, v := range jt.Instances {
		iv := *v
		cp.Instances[k] = &iv
	}
	cp.Waiting = append([]string(nil), jt.Waiting...)
	return &cp
}

// ──────────────────────────────────────────────────
// Fault Log Store
// ──────────────────────────────────────────────────

// PushFault adds a faulted job entry to the fault log.
func (m *Store) PushFault(_ context.Context, entry *faultlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.faults[entry.ID.String()] = &cp
	return nil
}

// ListFaults returns fault entries matching the given options, newest
// first.
func (m *Store) ListFaults(_ context.Context, opts faultlog.ListOpts) ([]*faultlog.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*faultlog.Entry, 0, len(m.faults))
	for _, e := range m.faults {
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetFault retrieves a fault entry by ID.
func (m *Store) GetFault(_ context.Context, entryID id.FaultID) (*faultlog.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.faults[entryID.String()]
	if !ok {
		return nil, steward.ErrFaultNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkFaultReplayed stamps ReplayedAt on an entry.
func (m *Store) MarkFaultReplayed(_ context.Context, entryID id.FaultID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.faults[entryID.String()]
	if !ok {
		return steward.ErrFaultNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeFaults removes entries with FailedAt before the given time.
func (m *Store) PurgeFaults(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, e := range m.faults {
		if e.FailedAt.Before(before) {
			delete(m.faults, key)
			removed++
		}
	}
	return removed, nil
}

// CountFaults returns the total number of entries in the fault log.
func (m *Store) CountFaults(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.faults)), nil
}

// paginate applies offset/limit slicing to a sorted result set.
func paginate[T any](result []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(result) {
			return nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
