package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	// Pure Go SQLite driver, no cgo on desk machines.
	_ "modernc.org/sqlite"
)

// NewSQLiteDB opens the desk's local cache file and creates its key/value
// table. The desk is a single writer so one connection is enough.
func NewSQLiteDB(ctx context.Context, path string, log zerolog.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Local cache opened")
	return db, nil
}
