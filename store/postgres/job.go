package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/job"
)

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return steward.ErrJobAlreadyExists
		}
		return fmt.Errorf("steward/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, steward.ErrJobNotFound
		}
		return nil, fmt.Errorf("steward/postgres: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes guarded by a version check. A concurrent
// writer that bumped the version first wins; the loser gets
// ErrVersionConflict.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	expected := j.Version
	m := toJobModel(j)
	m.Version = expected + 1
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.casMiss(ctx, "steward_jobs", "id", j.ID.String(), steward.ErrJobNotFound)
	}
	j.Version = m.Version
	j.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteJob removes a job by ID. Deleting an absent job is a no-op.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	_, err := s.db.NewDelete().
		TableExpr("steward_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state)).
		Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("steward/postgres: list jobs by state: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steward/postgres: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// casMiss disambiguates a zero-row versioned update: the record is either
// gone or was modified concurrently.
func (s *Store) casMiss(ctx context.Context, table, pkCol, pk string, notFoundErr error) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?)`, table, pkCol),
		pk,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("steward/postgres: check record: %w", err)
	}
	if !exists {
		return notFoundErr
	}
	return steward.ErrVersionConflict
}
