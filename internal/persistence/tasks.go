package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/phasegate/internal/scheduler"
)

// ErrTaskNotFound is returned for unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask inserts a task and its dependency edges. Dependencies must be
// created first.
func (s *SQLiteStore) CreateTask(ctx context.Context, task scheduler.Task) error {
	criteria, err := json.Marshal(nonNil(task.Criteria))
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}
	files, err := json.Marshal(nonNil(task.Files))
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}
	status := task.Status
	if status == "" {
		status = scheduler.TaskPending
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, ordinal, description, criteria, status, files)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID, task.Ordinal, task.Description, string(criteria), string(status), string(files))
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}

	for _, depID := range task.DependsOn {
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, depID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("dependency task %s does not exist", depID)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency existence: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`, task.ID, depID); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateStatus sets a task's status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, taskID string, status scheduler.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return requireRow(res, taskID)
}

// RecordReview stores the review counters, final files and commit of a task.
func (s *SQLiteStore) RecordReview(ctx context.Context, taskID string, review scheduler.ReviewState, files []string, commit string) error {
	encoded, err := json.Marshal(nonNil(files))
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET review_stage = ?, spec_iterations = ?, quality_iterations = ?,
			files = ?, commit_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, review.Stage, review.SpecIterations, review.QualityIterations, string(encoded), commit, taskID)
	if err != nil {
		return fmt.Errorf("failed to record review: %w", err)
	}
	return requireRow(res, taskID)
}

// GetTask loads a task with its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ordinal, description, criteria, status, files, review_stage, spec_iterations, quality_iterations
		FROM tasks WHERE id = ?
	`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	if task.DependsOn, err = s.dependencies(ctx, taskID); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns every task ordered by ordinal.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ordinal, description, criteria, status, files, review_stage, spec_iterations, quality_iterations
		FROM tasks ORDER BY ordinal, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if task.DependsOn, err = s.dependencies(ctx, task.ID); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*scheduler.Task, error) {
	var (
		task            scheduler.Task
		criteria, files string
		status          string
	)
	err := row.Scan(&task.ID, &task.Ordinal, &task.Description, &criteria, &status, &files,
		&task.Review.Stage, &task.Review.SpecIterations, &task.Review.QualityIterations)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	task.Status = scheduler.TaskStatus(status)
	if err := json.Unmarshal([]byte(criteria), &task.Criteria); err != nil {
		return nil, fmt.Errorf("failed to decode criteria of %s: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(files), &task.Files); err != nil {
		return nil, fmt.Errorf("failed to decode files of %s: %w", task.ID, err)
	}
	return &task, nil
}

func (s *SQLiteStore) dependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies for task %s: %w", taskID, err)
	}
	defer rows.Close()

	deps := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, id)
	}
	return deps, rows.Err()
}

func requireRow(res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
