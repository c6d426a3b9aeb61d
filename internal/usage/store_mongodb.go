package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrPartialWrite reports a batch where only some records were stored.
var ErrPartialWrite = errors.New("usage batch partially written")

// PartialWriteError details a partial batch. It matches ErrPartialWrite
// with errors.Is.
type PartialWriteError struct {
	Total  int
	Failed int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d of %d usage records not written: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }

func (e *PartialWriteError) Unwrap() error { return e.Err }

// MongoDBStore keeps the ledger in a MongoDB collection. Retention is
// delegated to a TTL index on created_at.
type MongoDBStore struct {
	coll *mongo.Collection
}

// NewMongoDBStore ensures the collection indexes exist.
func NewMongoDBStore(ctx context.Context, db *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if db == nil {
		return nil, errors.New("mongodb usage store: nil database")
	}
	coll := db.Collection(usageTable)

	createdAt := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}
	if retentionDays > 0 {
		createdAt.Options = options.Index().SetExpireAfterSeconds(int32(retentionDays * 24 * 60 * 60))
	}
	indexes := []mongo.IndexModel{
		createdAt,
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "model", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create usage indexes", "error", err)
	}
	return &MongoDBStore{coll: coll}, nil
}

// Insert writes records unordered, so one duplicate id does not block the
// rest of the batch.
func (s *MongoDBStore) Insert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.coll.InsertMany(ctx, records, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	var bulk mongo.BulkWriteException
	if errors.As(err, &bulk) && len(bulk.WriteErrors) > 0 {
		return &PartialWriteError{Total: len(records), Failed: len(bulk.WriteErrors), Err: err}
	}
	return fmt.Errorf("insert %d usage records: %w", len(records), err)
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error { return nil }
