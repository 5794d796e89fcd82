package localcache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Persister stores the cache's key/value rows. Save must apply every entry
// or none of them.
type Persister interface {
	LoadAll(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, entries map[string]string) error
}

// MemoryPersister keeps rows in memory. FailWith makes every Save fail,
// which tests use to simulate a broken disk.
type MemoryPersister struct {
	mu       sync.Mutex
	rows     map[string]string
	FailWith error
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{rows: make(map[string]string)}
}

func (p *MemoryPersister) LoadAll(_ context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.rows))
	for k, v := range p.rows {
		out[k] = v
	}
	return out, nil
}

func (p *MemoryPersister) Save(_ context.Context, entries map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailWith != nil {
		return p.FailWith
	}
	for k, v := range entries {
		p.rows[k] = v
	}
	return nil
}

// SQLitePersister stores rows in the kv table of a SQLite database.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister wraps a database opened by database.NewSQLiteDB.
func NewSQLitePersister(db *sql.DB) *SQLitePersister {
	return &SQLitePersister{db: db}
}

func (p *SQLitePersister) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("query kv: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan kv: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *SQLitePersister) Save(ctx context.Context, entries map[string]string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for k, v := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
			k, v,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	return tx.Commit()
}
