package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// sqliteTime has a fixed width so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS ` + usageTable + ` (
	id                TEXT PRIMARY KEY,
	request_id        TEXT NOT NULL DEFAULT '',
	completion_id     TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	model             TEXT NOT NULL,
	upstream_model    TEXT NOT NULL DEFAULT '',
	target            TEXT NOT NULL DEFAULT '',
	streamed          INTEGER NOT NULL DEFAULT 0,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	cached_tokens     INTEGER NOT NULL DEFAULT 0,
	reasoning_tokens  INTEGER NOT NULL DEFAULT 0,
	cost              REAL,
	billed_cost       REAL
)`

var sqliteInsert = insertStatement("INSERT OR IGNORE", func(int) string { return "?" }, "")

// SQLiteStore keeps the ledger in SQLite. The *sql.DB is owned by the
// storage layer and is not closed here.
type SQLiteStore struct {
	db        *sql.DB
	retention *retention
}

// NewSQLiteStore creates the ledger table when missing and starts the
// retention sweeper.
func NewSQLiteStore(ctx context.Context, db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("sqlite usage store: nil database")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create %s table: %w", usageTable, err)
	}
	for _, stmt := range indexStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			slog.Warn("failed to create usage index", "error", err)
		}
	}

	s := &SQLiteStore{db: db}
	s.retention = startRetention(retentionDays, s.purge)
	return s, nil
}

// Insert writes records in one transaction with a prepared statement.
func (s *SQLiteStore) Insert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args := rec.values()
		args[createdAtColumn] = rec.CreatedAt.UTC().Format(sqliteTime)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert usage record %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+usageTable+" WHERE created_at < ?", cutoff.UTC().Format(sqliteTime))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close stops the retention sweeper.
func (s *SQLiteStore) Close() error {
	s.retention.halt()
	return nil
}
