// Package storage opens the database behind usage accounting. A DB carries
// exactly one live handle, matching its Kind.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Kind names a storage backend.
type Kind string

const (
	KindSQLite     Kind = "sqlite"
	KindPostgreSQL Kind = "postgresql"
	KindMongoDB    Kind = "mongodb"
)

const (
	DefaultSQLitePath    = ".cache/chatgate.db"
	DefaultMongoDatabase = "chatgate"
	defaultMaxConns      = 10
)

// Config selects and addresses a backend. Only the fields of the chosen
// Kind are read.
type Config struct {
	Kind Kind

	SQLitePath string

	PostgresURL      string
	PostgresMaxConns int

	MongoURL      string
	MongoDatabase string
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindSQLite
	}
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.PostgresMaxConns <= 0 {
		c.PostgresMaxConns = defaultMaxConns
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = DefaultMongoDatabase
	}
	return c
}

// DB is an open backend.
type DB struct {
	Kind  Kind
	SQL   *sql.DB
	Pool  *pgxpool.Pool
	Mongo *mongo.Database

	release   func() error
	closeOnce sync.Once
	closeErr  error
}

// Open connects to the backend named by cfg.Kind and verifies the
// connection before returning.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	cfg = cfg.withDefaults()
	switch cfg.Kind {
	case KindSQLite:
		return openSQLite(ctx, cfg.SQLitePath)
	case KindPostgreSQL:
		return openPostgres(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	case KindMongoDB:
		return openMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown storage kind %q (want sqlite, postgresql or mongodb)", cfg.Kind)
	}
}

// Close releases the handle. Later calls return the first result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.release != nil {
			db.closeErr = db.release()
		}
	})
	return db.closeErr
}
