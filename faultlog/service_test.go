package faultlog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/store/memory"
)

// capturePub records published messages for assertions.
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

func newFaultedJob(jobType string, args map[string]any) *job.Job {
	faulted := time.Now().UTC().Add(-time.Minute)
	return &job.Job{
		Entity:       steward.NewEntity(),
		ID:           id.NewJobID(),
		JobType:      jobType,
		Arguments:    args,
		State:        job.StateFaulted,
		Faulted:      &faulted,
		Reason:       "disk full",
		RetryAttempt: 3,
		JobTimeout:   2 * time.Minute,
	}
}

func TestServiceArchive(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := faultlog.NewService(s, &capturePub{}, 3)
	ctx := context.Background()

	j := newFaultedJob("send-report", map[string]any{"report_id": "rpt_42"})
	if err := svc.Archive(ctx, j, "disk full"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	entries, err := s.ListFaults(ctx, faultlog.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListFaults: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 fault entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobType != "send-report" {
		t.Errorf("JobType = %q, want %q", entry.JobType, "send-report")
	}
	if entry.Reason != "disk full" {
		t.Errorf("Reason = %q, want %q", entry.Reason, "disk full")
	}
	if entry.Arguments["report_id"] != "rpt_42" {
		t.Errorf("Arguments = %v", entry.Arguments)
	}
	if entry.RetryAttempt != 3 {
		t.Errorf("RetryAttempt = %d, want 3", entry.RetryAttempt)
	}
	if entry.RetryLimit != 3 {
		t.Errorf("RetryLimit = %d, want 3", entry.RetryLimit)
	}
	if entry.JobTimeout != 2*time.Minute {
		t.Errorf("JobTimeout = %v, want 2m", entry.JobTimeout)
	}
	if !entry.FailedAt.Equal(*j.Faulted) {
		t.Errorf("FailedAt = %v, want %v", entry.FailedAt, *j.Faulted)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestServiceArchiveCountIncreases(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := faultlog.NewService(s, &capturePub{}, 3)
	ctx := context.Background()

	for i := range 3 {
		j := newFaultedJob("job-"+string(rune('a'+i)), nil)
		// Jobs that never reached the worker have no Faulted timestamp.
		j.Faulted = nil
		if err := svc.Archive(ctx, j, "fail"); err != nil {
			t.Fatalf("Archive %d: %v", i, err)
		}
	}

	count, err := s.CountFaults(ctx)
	if err != nil {
		t.Fatalf("CountFaults: %v", err)
	}
	if count != 3 {
		t.Errorf("CountFaults = %d, want 3", count)
	}
}

func TestServiceReplaySubmitsFreshJob(t *testing.T) {
	t.Parallel()
	s := memory.New()
	pub := &capturePub{}
	svc := faultlog.NewService(s, pub, 3)
	ctx := context.Background()

	original := newFaultedJob("send-report", map[string]any{"key": "value"})
	if err := svc.Archive(ctx, original, "original error"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	entries, err := s.ListFaults(ctx, faultlog.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListFaults: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 fault entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	newJobID, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if newJobID == original.ID {
		t.Error("replayed job should have a new ID")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	submit, ok := pub.msgs[0].(contract.SubmitJob)
	if !ok {
		t.Fatalf("published %T, want contract.SubmitJob", pub.msgs[0])
	}
	if submit.JobID != newJobID {
		t.Errorf("SubmitJob.JobID = %v, want %v", submit.JobID, newJobID)
	}
	if submit.JobType != "send-report" {
		t.Errorf("SubmitJob.JobType = %q, want %q", submit.JobType, "send-report")
	}
	if submit.Arguments["key"] != "value" {
		t.Errorf("SubmitJob.Arguments = %v", submit.Arguments)
	}
	if submit.JobTimeout != 2*time.Minute {
		t.Errorf("SubmitJob.JobTimeout = %v, want 2m", submit.JobTimeout)
	}
}

func TestServiceReplayMarksEntryReplayed(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := faultlog.NewService(s, &capturePub{}, 3)
	ctx := context.Background()

	j := newFaultedJob("replay-mark", nil)
	if err := svc.Archive(ctx, j, "fail"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	entries, err := s.ListFaults(ctx, faultlog.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListFaults: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	entry, err := s.GetFault(ctx, entryID)
	if err != nil {
		t.Fatalf("GetFault: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestServiceReplayNotFound(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := faultlog.NewService(s, &capturePub{}, 3)
	ctx := context.Background()

	if _, err := svc.Replay(ctx, id.NewFaultID()); !errors.Is(err, steward.ErrFaultNotFound) {
		t.Fatalf("Replay(missing) = %v, want ErrFaultNotFound", err)
	}
}
