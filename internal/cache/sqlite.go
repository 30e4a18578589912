package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	sequence TEXT,
	parameters TEXT,
	date TEXT,
	status TEXT,
	stdout TEXT,
	stderr TEXT
)`

// SQLite stores entries in the "jobs" table of a sqlite file. The table is
// created the first time it's needed rather than when the file is opened
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the sqlite file at path
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result cache at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure result cache at %s: %w", path, err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Init creates the empty jobs table if it doesn't exist
func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Lookup returns the entry with the key. If the table doesn't exist yet,
// it's created and the lookup is tried once more
func (s *SQLite) Lookup(ctx context.Context, key string) (*Entry, error) {
	e, err := s.lookup(ctx, key)
	if isNoTable(err) {
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		e, err = s.lookup(ctx, key)
	}
	return e, err
}

func (s *SQLite) lookup(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, sequence, parameters, date, status, stdout, stderr FROM jobs WHERE id = ?`,
		key,
	)

	var e Entry
	var date string
	err := row.Scan(&e.Key, &e.Sequence, &e.Parameters, &date, &e.Status, &e.Stdout, &e.Stderr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if e.Submitted, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return nil, fmt.Errorf("failed to parse date of cached entry %s: %w", key, err)
	}
	return &e, nil
}

// Store inserts the entry. An existing entry with the same key is left as is
func (s *SQLite) Store(ctx context.Context, e *Entry) error {
	err := s.insert(ctx, e)
	if isNoTable(err) {
		if err := s.Init(ctx); err != nil {
			return err
		}
		err = s.insert(ctx, e)
	}
	if err != nil {
		return fmt.Errorf("failed to store cached result %s: %w", e.Key, err)
	}
	return nil
}

func (s *SQLite) insert(ctx context.Context, e *Entry) error {
	params := e.Parameters
	if params == "" {
		params = "0000"
	}
	status := e.Status
	if status == "" {
		status = StatusFinished
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO jobs (id, sequence, parameters, date, status, stdout, stderr) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Sequence, params, e.Submitted.UTC().Format(time.RFC3339Nano), status, e.Stdout, e.Stderr,
	)
	return err
}

// Len returns the number of rows in the jobs table
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n)
	if isNoTable(err) {
		return 0, nil
	}
	return n, err
}

func isNoTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
