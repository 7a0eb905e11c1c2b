package faultlog

import (
	"context"
	"time"

	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
)

// Service provides high-level fault log operations over a Store. It
// satisfies job.FaultArchiver.
type Service struct {
	store      Store
	pub        bus.Publisher
	retryLimit int
}

// NewService creates a fault log service. pub is used by Replay to
// submit the replacement job through the regular protocol; retryLimit
// is recorded on archived entries as the budget that was exhausted.
func NewService(store Store, pub bus.Publisher, retryLimit int) *Service {
	return &Service{store: store, pub: pub, retryLimit: retryLimit}
}

// Archive builds an Entry from a terminally faulted job and persists it.
func (s *Service) Archive(ctx context.Context, j *job.Job, reason string) error {
	now := time.Now().UTC()
	failedAt := now
	if j.Faulted != nil {
		failedAt = *j.Faulted
	}
	entry := &Entry{
		ID:           id.NewFaultID(),
		JobID:        j.ID,
		JobType:      j.JobType,
		Arguments:    j.Arguments,
		Reason:       reason,
		RetryAttempt: j.RetryAttempt,
		RetryLimit:   s.retryLimit,
		JobTimeout:   j.JobTimeout,
		FailedAt:     failedAt,
		CreatedAt:    now,
	}
	return s.store.PushFault(ctx, entry)
}

// FaultStore returns the underlying store for direct access to List,
// Get, Purge, and Count operations.
func (s *Service) FaultStore() Store {
	return s.store
}
