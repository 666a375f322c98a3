// Package sqlite implements the persistent message queue on a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

const ddlDeviceData = `
CREATE TABLE IF NOT EXISTS device_data (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    payload TEXT    NOT NULL
);
`

// Queue is a ports.Queue backed by a single SQLite table.
// AUTOINCREMENT keeps identifiers monotonic, so a deleted id is never reused.
type Queue struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Single owner: the store worker serializes every request anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddlDeviceData); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Queue{db: db}, nil
}

// Insert appends payload and returns its new identifier.
func (q *Queue) Insert(ctx context.Context, payload string) (domain.RecordID, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO device_data (payload) VALUES (?)`, payload)
	if err != nil {
		return 0, fmt.Errorf("store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert id: %w", err)
	}
	return domain.RecordID(id), nil
}

// List returns every buffered record in insertion order.
func (q *Queue) List(ctx context.Context) ([]domain.Record, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, payload FROM device_data ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var r domain.Record
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Delete removes the record with the given id.
func (q *Queue) Delete(ctx context.Context, id domain.RecordID) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM device_data WHERE id = ?`, int64(id))
	if err != nil {
		return false, fmt.Errorf("store: delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete %d: %w", id, err)
	}
	return n > 0, nil
}

// Count returns the number of buffered records.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

var _ ports.Queue = (*Queue)(nil)
