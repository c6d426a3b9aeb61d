package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Kind: KindSQLite, SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSQLite(t *testing.T) {
	db := openTestSQLite(t, filepath.Join(t.TempDir(), "nested", "dir", "usage.db"))

	assert.Equal(t, KindSQLite, db.Kind)
	require.NotNil(t, db.SQL)
	assert.Nil(t, db.Pool)
	assert.Nil(t, db.Mongo)

	var mode string
	require.NoError(t, db.SQL.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close is idempotent")
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	db := openTestSQLite(t, filepath.Join(t.TempDir(), "usage.db"))
	_, err := db.SQL.Exec(`CREATE TABLE writes (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	const writers, perWriter = 8, 40
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if _, err := db.SQL.Exec(`INSERT INTO writes (id) VALUES (?)`, fmt.Sprintf("%d-%d", w, i)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("insert: %v", err)
	}

	var n int
	require.NoError(t, db.SQL.QueryRow(`SELECT COUNT(*) FROM writes`).Scan(&n))
	assert.Equal(t, writers*perWriter, n)
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"unknown kind", Config{Kind: "oracle"}, "unknown storage kind"},
		{"postgres without url", Config{Kind: KindPostgreSQL}, "url is required"},
		{"postgres bad url", Config{Kind: KindPostgreSQL, PostgresURL: "://bad"}, "parse url"},
		{"mongo without url", Config{Kind: KindMongoDB}, "url is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, KindSQLite, cfg.Kind)
	assert.Equal(t, DefaultSQLitePath, cfg.SQLitePath)
	assert.Equal(t, defaultMaxConns, cfg.PostgresMaxConns)
	assert.Equal(t, DefaultMongoDatabase, cfg.MongoDatabase)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/x.db")
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/x.db?"))
	assert.Equal(t, len(sqlitePragmas), strings.Count(dsn, "_pragma="))
}
