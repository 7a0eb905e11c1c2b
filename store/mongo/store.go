// Package mongo implements store.Store on MongoDB. Each record is a
// document keyed by its ID; optimistic writes replace the document with
// a filter on the stored version counter.
//
// Usage:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("steward"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/quorumhq/steward/attempt"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/job"
	"github.com/quorumhq/steward/jobtype"
)

// Collection name constants.
const (
	colJobs     = "steward_jobs"
	colAttempts = "steward_attempts"
	colJobTypes = "steward_job_types"
	colFaultLog = "steward_fault_log"
)

// Compile-time interface checks.
var (
	_ job.Store      = (*Store)(nil)
	_ attempt.Store  = (*Store)(nil)
	_ jobtype.Store  = (*Store)(nil)
	_ faultlog.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store. The caller owns the
// client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store. The caller owns the client lifecycle —
// the Store will not disconnect it on Close().
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *mongo.Database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongod.IndexModel{
		colJobs: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "job_type", Value: 1}}},
		},
		colAttempts: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
		colFaultLog: {
			{Keys: bson.D{{Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "job_type", Value: 1}}},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("steward/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// casMiss disambiguates a zero-match versioned replace: the document is
// either gone or was modified concurrently.
func (s *Store) casMiss(ctx context.Context, col, pk string, notFoundErr, conflictErr error) error {
	n, err := s.db.Collection(col).CountDocuments(ctx, bson.M{"_id": pk})
	if err != nil {
		return fmt.Errorf("steward/mongo: check record: %w", err)
	}
	if n == 0 {
		return notFoundErr
	}
	return conflictErr
}
