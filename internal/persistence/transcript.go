package persistence

import (
	"context"
	"fmt"

	"github.com/aristath/phasegate/internal/worker"
)

// RecordInvocation stores a new worker invocation.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv worker.Invocation, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (id, role, phase, task_id, attempt, session_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, string(inv.Role), inv.Phase, inv.TaskID, inv.Attempt, sessionID, inv.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// SaveMessage appends a message to an invocation's transcript.
func (s *SQLiteStore) SaveMessage(ctx context.Context, invocationID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript (invocation_id, role, content) VALUES (?, ?, ?)
	`, invocationID, role, content)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetHistory returns an invocation's messages in the order they were saved.
// The result is empty, not nil, when there are none.
func (s *SQLiteStore) GetHistory(ctx context.Context, invocationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp FROM transcript
		WHERE invocation_id = ?
		ORDER BY id ASC
	`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []Turn{}
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}

// ListInvocations returns every invocation in start order.
func (s *SQLiteStore) ListInvocations(ctx context.Context) ([]InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, phase, task_id, attempt, session_id, started_at
		FROM invocations ORDER BY started_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var r InvocationRecord
		if err := rows.Scan(&r.ID, &r.Role, &r.Phase, &r.TaskID, &r.Attempt, &r.SessionID, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
