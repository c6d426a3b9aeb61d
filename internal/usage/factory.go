package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatgate/config"
	"chatgate/internal/storage"
)

// Tracker owns the configured Sink and the database behind it.
type Tracker struct {
	Sink Sink
	db   *storage.DB
}

// New builds the usage tracker described by cfg. Accounting that is
// turned off yields a Noop sink and opens no database.
func New(ctx context.Context, cfg *config.Config) (*Tracker, error) {
	if !cfg.Usage.Enabled {
		return &Tracker{Sink: Noop{}}, nil
	}

	db, err := storage.Open(ctx, StorageConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("open usage storage: %w", err)
	}
	store, err := OpenStore(ctx, db, cfg.Usage.RetentionDays)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Tracker{Sink: NewRecorder(store, RecorderConfig(cfg.Usage)), db: db}, nil
}

// Close drains the sink before closing the database.
func (t *Tracker) Close() error {
	var err error
	if t.Sink != nil {
		err = t.Sink.Close()
	}
	if t.db != nil {
		err = errors.Join(err, t.db.Close())
	}
	return err
}

// OpenStore returns the Store for db's backend.
func OpenStore(ctx context.Context, db *storage.DB, retentionDays int) (Store, error) {
	switch db.Kind {
	case storage.KindSQLite:
		return NewSQLiteStore(ctx, db.SQL, retentionDays)
	case storage.KindPostgreSQL:
		return NewPostgreSQLStore(ctx, db.Pool, retentionDays)
	case storage.KindMongoDB:
		return NewMongoDBStore(ctx, db.Mongo, retentionDays)
	default:
		return nil, fmt.Errorf("no usage store for storage kind %q", db.Kind)
	}
}

// StorageConfig maps the storage section of the config file.
func StorageConfig(c config.StorageConfig) storage.Config {
	return storage.Config{
		Kind:             storage.Kind(c.Type),
		SQLitePath:       c.SQLite.Path,
		PostgresURL:      c.PostgreSQL.URL,
		PostgresMaxConns: c.PostgreSQL.MaxConns,
		MongoURL:         c.MongoDB.URL,
		MongoDatabase:    c.MongoDB.Database,
	}
}

// RecorderConfig maps the usage section of the config file.
func RecorderConfig(c config.UsageConfig) Config {
	return Config{
		QueueSize:     c.BufferSize,
		FlushInterval: time.Duration(c.FlushInterval) * time.Second,
		RetentionDays: c.RetentionDays,
	}.withDefaults()
}
