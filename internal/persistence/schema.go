package persistence

import (
	"context"
)

// initSchema creates all tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		ordinal INTEGER NOT NULL,
		description TEXT NOT NULL,
		criteria TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		files TEXT NOT NULL DEFAULT '[]',
		review_stage TEXT NOT NULL DEFAULT '',
		spec_iterations INTEGER NOT NULL DEFAULT 0,
		quality_iterations INTEGER NOT NULL DEFAULT 0,
		commit_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transcript (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invocation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (invocation_id) REFERENCES invocations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_invocation ON transcript(invocation_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
