package faultlog

import (
	"context"

	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
)

// Replay submits a fault log entry as a fresh job and marks the entry
// as replayed. The new job gets a new ID and a clean retry budget; the
// original faulted record is left untouched.
func (s *Service) Replay(ctx context.Context, entryID id.FaultID) (id.JobID, error) {
	entry, err := s.store.GetFault(ctx, entryID)
	if err != nil {
		return id.Nil, err
	}

	jobID := id.NewJobID()
	submit := contract.SubmitJob{
		JobID:      jobID,
		JobType:    entry.JobType,
		Arguments:  entry.Arguments,
		JobTimeout: entry.JobTimeout,
	}
	if err := s.pub.Publish(ctx, submit); err != nil {
		return id.Nil, err
	}

	if err := s.store.MarkFaultReplayed(ctx, entryID); err != nil {
		// The replacement is already submitted; surface the bookkeeping
		// failure but keep the new job ID usable.
		return jobID, err
	}
	return jobID, nil
}
