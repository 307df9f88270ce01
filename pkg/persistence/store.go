// Package persistence provides SQLite-based local storage mirroring the
// executions and actions the supervisor has observed, so past runs survive
// a restart and can be reviewed offline.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"overseer/pkg/logx"
	"overseer/pkg/proto"
)

// Store wraps the SQLite database holding the local execution mirror.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// ExecutionRow is one persisted execution snapshot.
type ExecutionRow struct {
	ID        string
	TaskID    string
	Status    proto.ExecutionStatus
	Error     string
	UpdatedAt time.Time
}

// Open opens (or creates) the store at dbPath with WAL mode and a busy
// timeout, and initializes the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// UpsertExecution records the latest status snapshot of an execution.
func (s *Store) UpsertExecution(executionID, taskID string, status proto.ExecutionStatus, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (id, task_id, status, error, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP`,
		executionID, taskID, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert execution %s: %w", executionID, err)
	}
	return nil
}

// EnsureExecution inserts an execution row if absent, without touching the
// status of an existing row.
func (s *Store) EnsureExecution(executionID, taskID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO executions (id, task_id, status, error, updated_at)
		VALUES (?, ?, ?, '', CURRENT_TIMESTAMP)`,
		executionID, taskID, string(proto.ExecutionPending),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure execution %s: %w", executionID, err)
	}
	return nil
}

// UpsertAction records the latest snapshot of one action.
func (s *Store) UpsertAction(executionID string, action *proto.Action) error {
	params, err := json.Marshal(action.Params)
	if err != nil {
		return fmt.Errorf("failed to serialize action params: %w", err)
	}

	var result sql.NullString
	if action.Result != nil {
		data, err := json.Marshal(action.Result)
		if err != nil {
			return fmt.Errorf("failed to serialize action result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO actions (execution_id, id, type, params, status, result, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(execution_id, id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			updated_at = CURRENT_TIMESTAMP`,
		executionID, action.ID, string(action.Type), string(params), string(action.Status), result,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert action %s: %w", action.ID, err)
	}
	return nil
}

// GetExecution loads one execution snapshot by id.
func (s *Store) GetExecution(executionID string) (*ExecutionRow, error) {
	row := s.db.QueryRow(
		"SELECT id, task_id, status, error, updated_at FROM executions WHERE id = ?",
		executionID,
	)

	var exec ExecutionRow
	var status string
	if err := row.Scan(&exec.ID, &exec.TaskID, &status, &exec.Error, &exec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	exec.Status = proto.ExecutionStatus(status)
	return &exec, nil
}

// ListExecutions returns all persisted executions, most recent first.
func (s *Store) ListExecutions() ([]*ExecutionRow, error) {
	rows, err := s.db.Query(
		"SELECT id, task_id, status, error, updated_at FROM executions ORDER BY updated_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*ExecutionRow
	for rows.Next() {
		var exec ExecutionRow
		var status string
		if err := rows.Scan(&exec.ID, &exec.TaskID, &status, &exec.Error, &exec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		exec.Status = proto.ExecutionStatus(status)
		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return executions, nil
}

// ListActions loads all persisted actions of an execution in id order.
func (s *Store) ListActions(executionID string) ([]*proto.Action, error) {
	rows, err := s.db.Query(
		"SELECT id, type, params, status, result FROM actions WHERE execution_id = ? ORDER BY id",
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*proto.Action
	for rows.Next() {
		var action proto.Action
		var actionType, params, status string
		var result sql.NullString
		if err := rows.Scan(&action.ID, &actionType, &params, &status, &result); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		action.Type = proto.ActionType(actionType)
		action.Status = proto.ActionStatus(status)
		if err := json.Unmarshal([]byte(params), &action.Params); err != nil {
			return nil, fmt.Errorf("failed to parse action params: %w", err)
		}
		if result.Valid {
			action.Result = &proto.ActionResult{}
			if err := json.Unmarshal([]byte(result.String), action.Result); err != nil {
				return nil, fmt.Errorf("failed to parse action result: %w", err)
			}
		}
		actions = append(actions, &action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actions: %w", err)
	}
	return actions, nil
}
