// Package state is the durable SQLite-backed store shared across components:
// a key-value table for routing overrides and a scheduled-task table. Task
// rows are stored and listed but no scheduler consumes them here.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Task is one scheduled-task row.
type Task struct {
	ID        int64
	Name      string
	Cron      string
	Command   string
	Enabled   bool
	CreatedAt float64
}

// Open opens (and creates if needed) the database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: the transaction boundary is the serialization point
	// for concurrent tasks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key        TEXT PRIMARY KEY,
		value      TEXT,
		updated_at REAL
	);

	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		cron       TEXT NOT NULL,
		command    TEXT NOT NULL,
		enabled    INTEGER DEFAULT 1,
		created_at REAL DEFAULT (unixepoch())
	);

	CREATE TABLE IF NOT EXISTS task_runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     INTEGER REFERENCES scheduled_tasks(id),
		started_at  REAL,
		finished_at REAL,
		result      TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value for key, or def when the key is absent.
func (s *Store) Get(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %q: %w", key, err)
	}
	return value, nil
}

// Set stores key=value, last write wins.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, float64(time.Now().UnixNano())/1e9,
	)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// AddTask inserts a scheduled task and returns its id.
func (s *Store) AddTask(ctx context.Context, name, cron, command string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (name, cron, command) VALUES (?, ?, ?)`,
		name, cron, command,
	)
	if err != nil {
		return 0, fmt.Errorf("add task: %w", err)
	}
	return res.LastInsertId()
}

// Tasks returns all enabled scheduled tasks in insertion order.
func (s *Store) Tasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cron, command, enabled, created_at
		 FROM scheduled_tasks WHERE enabled = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var enabled int
		if err := rows.Scan(&t.ID, &t.Name, &t.Cron, &t.Command, &enabled, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
