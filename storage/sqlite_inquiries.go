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

// SQLiteInquiryStorage implements InquiryStorageInterface.
type SQLiteInquiryStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// Compile-time interface compliance check
var _ InquiryStorageInterface = (*SQLiteInquiryStorage)(nil)

// NewSQLiteInquiryStorage creates an inquiry repository.
func NewSQLiteInquiryStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteInquiryStorage {
	return &SQLiteInquiryStorage{db: db, logger: logger}
}

const inquiryColumns = `id, account_id, execution_id, step_id, prompt, response_schema,
	state, response, created_at, expires_at, answered_at, answered_by`

// CreateAndPause inserts the inquiry and pauses its owning execution in one
// transaction. The partial unique index rejects a second pending inquiry for
// the same step.
func (s *SQLiteInquiryStorage) CreateAndPause(ctx context.Context, inquiry *core.Inquiry) error {
	if inquiry.CreatedAt.IsZero() {
		inquiry.CreatedAt = time.Now().UTC()
	}
	inquiry.State = core.InquiryStatePending

	return s.db.WithTransaction(func(tx *sql.Tx) error {
		var schema interface{}
		if len(inquiry.ResponseSchema) > 0 {
			schema = string(inquiry.ResponseSchema)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO inquiries (`+inquiryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, NULL, NULL)`,
			inquiry.ID, inquiry.AccountID, inquiry.ExecutionID, inquiry.StepID,
			inquiry.Prompt, schema, string(inquiry.State),
			inquiry.CreatedAt.Format(time.RFC3339Nano), timeOrNull(inquiry.ExpiresAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("step %q already has a pending inquiry: %w", inquiry.StepID, ErrDuplicateName)
			}
			return fmt.Errorf("failed to create inquiry: %w", err)
		}

		var current string
		err = tx.QueryRowContext(ctx,
			`SELECT state FROM executions WHERE id = ?`, inquiry.ExecutionID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("execution %q: %w", inquiry.ExecutionID, ErrExecutionNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read execution state: %w", err)
		}
		if core.ExecutionState(current) != core.ExecutionStateRunning {
			return &TransitionError{Observed: core.ExecutionState(current), Target: core.ExecutionStatePaused}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE executions SET state = ?, pause_reason = ?, cursor = ? WHERE id = ?`,
			string(core.ExecutionStatePaused), string(core.PauseReasonAwaitingInquiry),
			inquiry.StepID, inquiry.ExecutionID)
		if err != nil {
			return fmt.Errorf("failed to pause execution: %w", err)
		}

		s.logger.Infow("Inquiry raised",
			"inquiry_id", inquiry.ID,
			"execution_id", inquiry.ExecutionID,
			"step_id", inquiry.StepID,
			"expires_at", inquiry.ExpiresAt)
		return nil
	})
}

// Get loads an inquiry by id within the account.
func (s *SQLiteInquiryStorage) Get(ctx context.Context, accountID, id string) (*core.Inquiry, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT `+inquiryColumns+` FROM inquiries
		WHERE account_id = ? AND id = ?`, accountID, id)

	inquiry, err := scanInquiry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("inquiry %q: %w", id, ErrInquiryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inquiry: %w", err)
	}
	return inquiry, nil
}

// List returns inquiries matching the filter, newest first.
func (s *SQLiteInquiryStorage) List(ctx context.Context, accountID string, filter *core.InquiryFilter) ([]*core.Inquiry, int64, error) {
	if filter == nil {
		filter = &core.InquiryFilter{}
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
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
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
		`SELECT COUNT(*) FROM inquiries WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count inquiries: %w", err)
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
		SELECT `+inquiryColumns+` FROM inquiries
		WHERE `+whereClause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list inquiries: %w", err)
	}
	defer rows.Close()

	var inquiries []*core.Inquiry
	for rows.Next() {
		inquiry, err := scanInquiry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan inquiry: %w", err)
		}
		inquiries = append(inquiries, inquiry)
	}
	return inquiries, total, rows.Err()
}

// Answer performs the pending -> answered compare-and-set and returns the
// updated inquiry. A non-pending inquiry surfaces ErrInquiryNotPending.
func (s *SQLiteInquiryStorage) Answer(ctx context.Context, accountID, id string, response []byte, answeredBy string) (*core.Inquiry, error) {
	var answered *core.Inquiry
	err := s.db.WithTransaction(func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+inquiryColumns+` FROM inquiries
			WHERE account_id = ? AND id = ?`, accountID, id)
		inquiry, err := scanInquiry(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("inquiry %q: %w", id, ErrInquiryNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read inquiry: %w", err)
		}
		if inquiry.State != core.InquiryStatePending {
			return fmt.Errorf("inquiry %q is %s: %w", id, inquiry.State, ErrInquiryNotPending)
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE inquiries
			SET state = ?, response = ?, answered_at = ?, answered_by = ?
			WHERE id = ? AND state = ?`,
			string(core.InquiryStateAnswered), string(response),
			now.Format(time.RFC3339Nano), nullIfEmpty(answeredBy),
			id, string(core.InquiryStatePending))
		if err != nil {
			return fmt.Errorf("failed to answer inquiry: %w", err)
		}

		inquiry.State = core.InquiryStateAnswered
		inquiry.Response = json.RawMessage(response)
		inquiry.AnsweredAt = &now
		inquiry.AnsweredBy = answeredBy
		answered = inquiry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Inquiry answered",
		"inquiry_id", id,
		"account_id", accountID,
		"answered_by", answeredBy)
	return answered, nil
}

// ExpireDue moves every pending inquiry past its deadline to expired and
// returns them so the caller can fail or fall back the owning executions.
func (s *SQLiteInquiryStorage) ExpireDue(ctx context.Context, now time.Time) ([]*core.Inquiry, error) {
	var expired []*core.Inquiry
	err := s.db.WithTransaction(func(tx *sql.Tx) error {
		cutoff := now.UTC().Format(time.RFC3339Nano)
		rows, err := tx.QueryContext(ctx, `
			SELECT `+inquiryColumns+` FROM inquiries
			WHERE state = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
			string(core.InquiryStatePending), cutoff)
		if err != nil {
			return fmt.Errorf("failed to query due inquiries: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			inquiry, err := scanInquiry(rows)
			if err != nil {
				return fmt.Errorf("failed to scan due inquiry: %w", err)
			}
			expired = append(expired, inquiry)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		for _, inquiry := range expired {
			_, err := tx.ExecContext(ctx, `
				UPDATE inquiries SET state = ? WHERE id = ? AND state = ?`,
				string(core.InquiryStateExpired), inquiry.ID, string(core.InquiryStatePending))
			if err != nil {
				return fmt.Errorf("failed to expire inquiry %s: %w", inquiry.ID, err)
			}
			inquiry.State = core.InquiryStateExpired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func scanInquiry(row rowScanner) (*core.Inquiry, error) {
	var (
		inq                 core.Inquiry
		schema, response    sql.NullString
		createdAt           string
		expiresAt, answered sql.NullString
		answeredBy          sql.NullString
	)

	err := row.Scan(&inq.ID, &inq.AccountID, &inq.ExecutionID, &inq.StepID,
		&inq.Prompt, &schema, &inq.State, &response, &createdAt,
		&expiresAt, &answered, &answeredBy)
	if err != nil {
		return nil, err
	}

	if schema.Valid {
		inq.ResponseSchema = json.RawMessage(schema.String)
	}
	if response.Valid {
		inq.Response = json.RawMessage(response.String)
	}
	inq.AnsweredBy = answeredBy.String

	if inq.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if inq.ExpiresAt, err = parseNullTime("expires_at", expiresAt); err != nil {
		return nil, err
	}
	if inq.AnsweredAt, err = parseNullTime("answered_at", answered); err != nil {
		return nil, err
	}
	return &inq, nil
}
