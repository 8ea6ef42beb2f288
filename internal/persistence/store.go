// Package persistence keeps the task tracker and the worker transcript in
// SQLite. It is a record of the run for the operator, not a resume mechanism.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/phasegate/internal/scheduler"
	"github.com/aristath/phasegate/internal/worker"
)

// Turn is one message exchanged with a worker invocation.
type Turn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// InvocationRecord is a stored worker invocation.
type InvocationRecord struct {
	ID        string
	Role      string
	Phase     string
	TaskID    string
	Attempt   int
	SessionID string
	StartedAt time.Time
}

// Tracker is the task-tracking collaborator.
type Tracker interface {
	CreateTask(ctx context.Context, task scheduler.Task) error
	UpdateStatus(ctx context.Context, taskID string, status scheduler.TaskStatus) error
}

// Store is everything the SQLite store offers.
type Store interface {
	Tracker
	worker.Transcript

	RecordReview(ctx context.Context, taskID string, review scheduler.ReviewState, files []string, commit string) error
	GetTask(ctx context.Context, taskID string) (*scheduler.Task, error)
	ListTasks(ctx context.Context) ([]*scheduler.Task, error)
	ListInvocations(ctx context.Context) ([]InvocationRecord, error)
	GetHistory(ctx context.Context, invocationID string) ([]Turn, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	// modernc.org/sqlite ignores _foreign_keys in the DSN; see open.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates a private in-memory store. Each call gets its own
// database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:phasegate-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// Two connections: ListTasks queries dependencies while iterating tasks.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
