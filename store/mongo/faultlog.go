package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/quorumhq/steward"
	"github.com/quorumhq/steward/faultlog"
	"github.com/quorumhq/steward/id"
)

// PushFault appends a fault entry to the log.
func (s *Store) PushFault(ctx context.Context, e *faultlog.Entry) error {
	m := toFaultModel(e)
	_, err := s.db.Collection(colFaultLog).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("steward/mongo: push fault: %w", err)
	}
	return nil
}

// GetFault retrieves a fault entry by ID.
func (s *Store) GetFault(ctx context.Context, faultID id.FaultID) (*faultlog.Entry, error) {
	var m faultModel
	err := s.db.Collection(colFaultLog).FindOne(ctx, bson.M{"_id": faultID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, steward.ErrFaultNotFound
		}
		return nil, fmt.Errorf("steward/mongo: get fault: %w", err)
	}
	return fromFaultModel(&m)
}

// ListFaults returns fault entries newest first, optionally filtered by
// job type.
func (s *Store) ListFaults(ctx context.Context, opts faultlog.ListOpts) ([]*faultlog.Entry, error) {
	filter := bson.M{}
	if opts.JobType != "" {
		filter["job_type"] = opts.JobType
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colFaultLog).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list faults: %w", err)
	}
	defer cursor.Close(ctx)

	var models []faultModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("steward/mongo: list faults decode: %w", err)
	}

	result := make([]*faultlog.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromFaultModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steward/mongo: list faults convert: %w", convErr)
		}
		result = append(result, e)
	}
	return result, nil
}

// MarkFaultReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkFaultReplayed(ctx context.Context, faultID id.FaultID) error {
	res, err := s.db.Collection(colFaultLog).UpdateOne(ctx,
		bson.M{"_id": faultID.String()},
		bson.M{"$set": bson.M{"replayed_at": now()}})
	if err != nil {
		return fmt.Errorf("steward/mongo: mark fault replayed: %w", err)
	}
	if res.MatchedCount == 0 {
		return steward.ErrFaultNotFound
	}
	return nil
}

// PurgeFaults removes entries that failed before the cutoff and returns
// how many were removed.
func (s *Store) PurgeFaults(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colFaultLog).DeleteMany(ctx,
		bson.M{"failed_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("steward/mongo: purge faults: %w", err)
	}
	return res.DeletedCount, nil
}

// CountFaults returns the number of entries in the log.
func (s *Store) CountFaults(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colFaultLog).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("steward/mongo: count faults: %w", err)
	}
	return n, nil
}
