package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/jobtype"
)

// CreateJobType persists a new job type record.
func (s *Store) CreateJobType(ctx context.Context, jt *jobtype.JobType) error {
	m := toJobTypeModel(jt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return steward.ErrJobTypeAlreadyExists
		}
		return fmt.Errorf("steward/postgres: create job type: %w", err)
	}
	return nil
}

// GetJobType retrieves a job type record by name.
func (s *Store) GetJobType(ctx context.Context, name string) (*jobtype.JobType, error) {
	m := new(jobTypeModel)
	err := s.db.NewSelect().Model(m).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, steward.ErrJobTypeNotFound
		}
		return nil, fmt.Errorf("steward/postgres: get job type: %w", err)
	}
	return fromJobTypeModel(m), nil
}

// UpdateJobType persists changes guarded by a version check.
func (s *Store) UpdateJobType(ctx context.Context, jt *jobtype.JobType) error {
	expected := jt.Version
	m := toJobTypeModel(jt)
	m.Version = expected + 1
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: update job type: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.casMiss(ctx, "steward_job_types", "name", jt.Name, steward.ErrJobTypeNotFound)
	}
	jt.Version = m.Version
	jt.UpdatedAt = m.UpdatedAt
	return nil
}

// DeleteJobType removes a job type record. Deleting an absent record is
// a no-op.
func (s *Store) DeleteJobType(ctx context.Context, name string) error {
	_, err := s.db.NewDelete().
		TableExpr("steward_job_types").
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steward/postgres: delete job type: %w", err)
	}
	return nil
}

// ListJobTypes returns all job type records ordered by name.
func (s *Store) ListJobTypes(ctx context.Context) ([]*jobtype.JobType, error) {
	var models []jobTypeModel
	err := s.db.NewSelect().Model(&models).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: list job types: %w", err)
	}

	result := make([]*jobtype.JobType, 0, len(models))
	for i := range models {
		result = append(result, fromJobTypeModel(&models[i]))
	}
	return result, nil
}
