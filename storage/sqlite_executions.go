package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"responder/core"

	"go.uber.org/zap"
)

// SQLiteExecutionStorage implements ExecutionStorageInterface.
type SQLiteExecutionStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// Compile-time interface compliance check
var _ ExecutionStorageInterface = (*SQLiteExecutionStorage)(nil)

// NewSQLiteExecutionStorage creates an execution repository.
func NewSQLiteExecutionStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteExecutionStorage {
	return &SQLiteExecutionStorage{db: db, logger: logger}
}

const executionColumns = `id, account_id, playbook_id, playbook_name, workflow, input, state, cursor,
	pause_reason, failure_reason, error, parent_execution_id, schedule_id,
	created_at, started_at, completed_at`

// Create inserts a new execution row.
func (s *SQLiteExecutionStorage) Create(ctx context.Context, execution *core.Execution) error {
	workflow, err := json.Marshal(execution.Workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow snapshot: %w", err)
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		execution.ID, execution.AccountID,
		nullIfEmpty(execution.PlaybookID), nullIfEmpty(execution.PlaybookName),
		string(workflow), nullIfEmpty(string(execution.Input)),
		string(execution.State), nullIfEmpty(execution.Cursor),
		nullIfEmpty(string(execution.PauseReason)), nullIfEmpty(string(execution.FailureReason)),
		nullIfEmpty(execution.Error),
		nullIfEmpty(execution.ParentExecutionID), nullIfEmpty(execution.ScheduleID),
		execution.CreatedAt.Format(time.RFC3339Nano),
		timeOrNull(execution.StartedAt), timeOrNull(execution.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.Infow("Execution created",
		"execution_id", execution.ID,
		"account_id", execution.AccountID,
		"playbook_id", execution.PlaybookID,
		"state", execution.State)
	return nil
}

// Get loads an execution by id within the account.
func (s *SQLiteExecutionStorage) Get(ctx context.Context, accountID, id string) (*core.Execution, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE account_id = ? AND id = ?`, accountID, id)

	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %q: %w", id, ErrExecutionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// List returns executions matching the filter, newest first.
func (s *SQLiteExecutionStorage) List(ctx context.Context, accountID string, filter *core.ExecutionFilter) ([]*core.Execution, int64, error) {
	if filter == nil {
		filter = &core.ExecutionFilter{}
	}

	where := []string{"account_id = ?"}
	args := []interface{}{accountID}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		where = append(where, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.PlaybookID != "" {
		where = append(where, "playbook_id = ?")
		args = append(args, filter.PlaybookID)
	}
	if filter.ScheduleID != "" {
		where = append(where, "schedule_id = ?")
		args = append(args, filter.ScheduleID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = core.DefaultPageLimit
	}
	if limit > core.MaxPageLimit {
		limit = core.MaxPageLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE `+whereClause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*core.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	return executions, total, rows.Err()
}

// TransitionState performs the compare-and-set state change that every
// mutation of an execution must go through. The read and the write share one
// transaction on the single-writer pool, so concurrent control operations
// serialize here and exactly one wins.
func (s *SQLiteExecutionStorage) TransitionState(ctx context.Context, accountID, id string, target core.ExecutionState, from []core.ExecutionState, update *ExecutionUpdate) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM executions WHERE account_id = ? AND id = ?`,
			accountID, id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("execution %q: %w", id, ErrExecutionNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read execution state: %w", err)
		}

		observed := core.ExecutionState(current)
		allowed := false
		for _, f := range from {
			if f == observed {
				allowed = true
				break
			}
		}
		if !allowed {
			return &TransitionError{Observed: observed, Target: target}
		}

		set := []string{"state = ?"}
		args := []interface{}{string(target)}

		if update != nil {
			if update.Cursor != nil {
				set = append(set, "cursor = ?")
				args = append(args, nullIfEmpty(*update.Cursor))
			}
			if update.PauseReason != nil {
				set = append(set, "pause_reason = ?")
				args = append(args, nullIfEmpty(string(*update.PauseReason)))
			}
			if update.FailureReason != nil {
				set = append(set, "failure_reason = ?")
				args = append(args, nullIfEmpty(string(*update.FailureReason)))
			}
			if update.Error != nil {
				set = append(set, "error = ?")
				args = append(args, nullIfEmpty(*update.Error))
			}
			if update.StartedAt != nil {
				set = append(set, "started_at = ?")
				args = append(args, update.StartedAt.UTC().Format(time.RFC3339Nano))
			}
			if update.CompletedAt != nil {
				set = append(set, "completed_at = ?")
				args = append(args, update.CompletedAt.UTC().Format(time.RFC3339Nano))
			}
		}
		// Leaving the paused state clears the pause reason unless the caller
		// set one explicitly.
		if target != core.ExecutionStatePaused && (update == nil || update.PauseReason == nil) {
			set = append(set, "pause_reason = NULL")
		}

		args = append(args, accountID, id)
		_, err = tx.ExecContext(ctx,
			`UPDATE executions SET `+strings.Join(set, ", ")+` WHERE account_id = ? AND id = ?`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to transition execution state: %w", err)
		}

		s.logger.Infow("Execution state transition",
			"execution_id", id,
			"account_id", accountID,
			"from", observed,
			"to", target)
		return nil
	})
}

// SetCursor records the next step without changing state.
func (s *SQLiteExecutionStorage) SetCursor(ctx context.Context, id, cursor string) error {
	result, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE executions SET cursor = ? WHERE id = ?`, nullIfEmpty(cursor), id)
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cursor update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("execution %q: %w", id, ErrExecutionNotFound)
	}
	return nil
}

// AppendResult writes the next step result. Sequence numbers are allocated
// inside the transaction, so results for one execution are densely ordered by
// completion and never rewritten.
func (s *SQLiteExecutionStorage) AppendResult(ctx context.Context, result *core.ExecutionResult) error {
	return s.db.WithTransaction(func(tx *sql.Tx) error {
		var nextSeq int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_results WHERE execution_id = ?`,
			result.ExecutionID).Scan(&nextSeq)
		if err != nil {
			return fmt.Errorf("failed to allocate result sequence: %w", err)
		}
		result.Seq = nextSeq

		var output interface{}
		if len(result.Output) > 0 {
			output = string(result.Output)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_results
				(execution_id, seq, step_id, status, output, error, attempts, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ExecutionID, result.Seq, result.StepID, string(result.Status),
			output, nullIfEmpty(result.Error), result.Attempts,
			result.StartedAt.UTC().Format(time.RFC3339Nano),
			result.CompletedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to append execution result: %w", err)
		}
		return nil
	})
}

// ListResults returns the step results for an execution in completion order.
func (s *SQLiteExecutionStorage) ListResults(ctx context.Context, executionID string) ([]*core.ExecutionResult, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT execution_id, seq, step_id, status, output, error, attempts, started_at, completed_at
		FROM execution_results WHERE execution_id = ? ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution results: %w", err)
	}
	defer rows.Close()

	var results []*core.ExecutionResult
	for rows.Next() {
		var (
			r             core.ExecutionResult
			output, rErr  sql.NullString
			started, done string
		)
		if err := rows.Scan(&r.ExecutionID, &r.Seq, &r.StepID, &r.Status,
			&output, &rErr, &r.Attempts, &started, &done); err != nil {
			return nil, fmt.Errorf("failed to scan execution result: %w", err)
		}
		if output.Valid {
			r.Output = json.RawMessage(output.String)
		}
		r.Error = rErr.String
		if r.StartedAt, err = parseTime("started_at", started); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTime("completed_at", done); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CountActiveByPlaybook counts non-terminal executions referencing a
// playbook. The delete policy check uses this.
func (s *SQLiteExecutionStorage) CountActiveByPlaybook(ctx context.Context, accountID, playbookID string) (int64, error) {
	var count int64
	err := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE account_id = ? AND playbook_id = ? AND state IN (?, ?, ?)`,
		accountID, playbookID,
		string(core.ExecutionStatePending), string(core.ExecutionStateRunning), string(core.ExecutionStatePaused),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}
	return count, nil
}

func scanExecution(row rowScanner) (*core.Execution, error) {
	var (
		e                                  core.Execution
		playbookID, playbookName           sql.NullString
		workflow                           string
		input                              sql.NullString
		cursor, pauseReason, failureReason sql.NullString
		execErr, parentID, scheduleID      sql.NullString
		createdAt                          string
		startedAt, completedAt             sql.NullString
	)

	err := row.Scan(&e.ID, &e.AccountID, &playbookID, &playbookName, &workflow,
		&input, &e.State, &cursor, &pauseReason, &failureReason, &execErr,
		&parentID, &scheduleID, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	e.PlaybookID = playbookID.String
	e.PlaybookName = playbookName.String
	if input.Valid {
		e.Input = json.RawMessage(input.String)
	}
	e.Cursor = cursor.String
	e.PauseReason = core.PauseReason(pauseReason.String)
	e.FailureReason = core.FailureReason(failureReason.String)
	e.Error = execErr.String
	e.ParentExecutionID = parentID.String
	e.ScheduleID = scheduleID.String

	if err := json.Unmarshal([]byte(workflow), &e.Workflow); err != nil {
		return nil, fmt.Errorf("corrupted workflow snapshot for execution %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if e.StartedAt, err = parseNullTime("started_at", startedAt); err != nil {
		return nil, err
	}
	if e.CompletedAt, err = parseNullTime("completed_at", completedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
