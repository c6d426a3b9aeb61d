package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS ` + usageTable + ` (
	id                TEXT PRIMARY KEY,
	request_id        TEXT NOT NULL DEFAULT '',
	completion_id     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	model             TEXT NOT NULL,
	upstream_model    TEXT NOT NULL DEFAULT '',
	target            TEXT NOT NULL DEFAULT '',
	streamed          BOOLEAN NOT NULL DEFAULT FALSE,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	cached_tokens     INTEGER NOT NULL DEFAULT 0,
	reasoning_tokens  INTEGER NOT NULL DEFAULT 0,
	cost              DOUBLE PRECISION,
	billed_cost       DOUBLE PRECISION
)`

var postgresInsert = insertStatement("INSERT",
	func(n int) string { return fmt.Sprintf("$%d", n) },
	" ON CONFLICT (id) DO NOTHING")

// PostgreSQLStore keeps the ledger in PostgreSQL. The pool is owned by the
// storage layer.
type PostgreSQLStore struct {
	pool      *pgxpool.Pool
	retention *retention
}

// NewPostgreSQLStore creates the ledger table when missing and starts the
// retention sweeper.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, errors.New("postgresql usage store: nil pool")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create %s table: %w", usageTable, err)
	}
	for _, stmt := range indexStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			slog.Warn("failed to create usage index", "error", err)
		}
	}

	s := &PostgreSQLStore{pool: pool}
	s.retention = startRetention(retentionDays, s.purge)
	return s, nil
}

// Insert queues every record in one pgx.Batch inside a transaction, so a
// batch is written entirely or not at all.
func (s *PostgreSQLStore) Insert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(postgresInsert, rec.values()...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert %d usage records: %w", len(records), err)
	}
	return nil
}

func (s *PostgreSQLStore) purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+usageTable+" WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close stops the retention sweeper.
func (s *PostgreSQLStore) Close() error {
	s.retention.halt()
	return nil
}
