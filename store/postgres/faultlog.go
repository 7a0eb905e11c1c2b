package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
)

// PushFault appends a fault entry to the log.
func (s *Store) PushFault(ctx context.Context, e *faultlog.Entry) error {
	m := toFaultModel(e)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: push fault: %w", err)
	}
	return nil
}

// GetFault retrieves a fault entry by ID.
func (s *Store) GetFault(ctx context.Context, faultID id.FaultID) (*faultlog.Entry, error) {
	m := new(faultModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", faultID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, steward.ErrFaultNotFound
		}
		return nil, fmt.Errorf("steward/postgres: get fault: %w", err)
	}
	return fromFaultModel(m)
}

// ListFaults returns fault entries newest first, optionally filtered by
// job type.
func (s *Store) ListFaults(ctx context.Context, opts faultlog.ListOpts) ([]*faultlog.Entry, error) {
	var models []faultModel
	q := s.db.NewSelect().Model(&models).
		Order("failed_at DESC")

	if opts.JobType != "" {
		q = q.Where("job_type = ?", opts.JobType)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("steward/postgres: list faults: %w", err)
	}

	result := make([]*faultlog.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromFaultModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steward/postgres: list faults convert: %w", convErr)
		}
		result = append(result, e)
	}
	return result, nil
}

// MarkFaultReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkFaultReplayed(ctx context.Context, faultID id.FaultID) error {
	res, err := s.db.NewUpdate().
		TableExpr("steward_fault_log").
		Set("replayed_at = ?", time.Now().UTC()).
		Where("id = ?", faultID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: mark fault replayed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return steward.ErrFaultNotFound
	}
	return nil
}

// PurgeFaults removes entries that failed before the cutoff and returns
// how many were removed.
func (s *Store) PurgeFaults(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("steward_fault_log").
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("steward/postgres: purge faults: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountFaults returns the number of entries in the log.
func (s *Store) CountFaults(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().
		TableExpr("steward_fault_log").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("steward/postgres: count faults: %w", err)
	}
	return int64(n), nil
}
