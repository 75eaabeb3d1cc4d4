package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kandev/agentdispatch/internal/dispatch"
)

// PostgresStore implements dispatch.TaskStore against a tasks table owned
// by the orchestration backend. The broker only ever reads current status
// and writes a terminal outcome for a non-terminal task (§6.4); it never
// revives or deletes rows.
//
// Expected schema (created and migrated by the orchestration backend, not
// by this package):
//
//	CREATE TABLE tasks (
//	    task_id      TEXT PRIMARY KEY,
//	    workspace_id TEXT NOT NULL,
//	    status       TEXT NOT NULL,
//	    result       JSONB,
//	    error        TEXT,
//	    completed_at TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *DB
}

// NewPostgresStore wraps an already-connected DB.
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetTask reads a task's current status. Returns (nil, nil) when the task
// id is unknown to the store.
func (s *PostgresStore) GetTask(taskID string) (*dispatch.StoredTask, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.Pool().QueryRow(ctx,
		`SELECT workspace_id, status, result, error FROM tasks WHERE task_id = $1`, taskID)

	var (
		workspaceID string
		status      string
		resultJSON  []byte
		errMsg      *string
	)
	if err := row.Scan(&workspaceID, &status, &resultJSON, &errMsg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var result map[string]any
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, err
		}
	}

	stored := &dispatch.StoredTask{
		TaskID:      taskID,
		WorkspaceID: workspaceID,
		Status:      dispatch.TaskStatus(status),
		Result:      result,
	}
	if errMsg != nil {
		stored.Error = *errMsg
	}
	return stored, nil
}

// UpdateTaskStatus writes a terminal outcome for taskID.
func (s *PostgresStore) UpdateTaskStatus(taskID string, status dispatch.TaskStatus, result map[string]any, errMsg string, completedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	_, err = s.db.Pool().Exec(ctx,
		`UPDATE tasks SET status = $1, result = $2, error = $3, completed_at = $4 WHERE task_id = $5`,
		string(status), resultJSON, errPtr, completedAt, taskID)
	return err
}
