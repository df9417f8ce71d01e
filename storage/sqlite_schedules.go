package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"responder/core"

	"go.uber.org/zap"
)

// SQLiteScheduleStorage implements ScheduleStorageInterface.
type SQLiteScheduleStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// Compile-time interface compliance check
var _ ScheduleStorageInterface = (*SQLiteScheduleStorage)(nil)

// NewSQLiteScheduleStorage creates a schedule repository.
func NewSQLiteScheduleStorage(db *SQLite, logger *zap.SugaredLogger) *SQLiteScheduleStorage {
	return &SQLiteScheduleStorage{db: db, logger: logger}
}

const scheduleColumns = `id, account_id, playbook_id, name, cron, interval_ns, fire_at,
	enabled, next_fire_time, payload, last_fire_time, last_fire_status, last_error,
	created_at, updated_at`

// Create inserts a schedule. Names are unique within an account.
func (s *SQLiteScheduleStorage) Create(ctx context.Context, schedule *core.Schedule) error {
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	var payload interface{}
	if len(schedule.Payload) > 0 {
		payload = string(schedule.Payload)
	}

	_, err := s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)`,
		schedule.ID, schedule.AccountID, schedule.PlaybookID, schedule.Name,
		nullIfEmpty(schedule.Cron), int64(schedule.Interval), timeOrNull(schedule.At),
		boolToInt(schedule.Enabled), schedule.NextFireTime.UTC().Format(time.RFC3339Nano),
		payload,
		schedule.CreatedAt.Format(time.RFC3339Nano), schedule.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("schedule %q: %w", schedule.Name, ErrDuplicateName)
		}
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	s.logger.Infow("Schedule created",
		"schedule_id", schedule.ID,
		"account_id", schedule.AccountID,
		"playbook_id", schedule.PlaybookID,
		"next_fire_time", schedule.NextFireTime)
	return nil
}

// Get loads a schedule by id within the account.
func (s *SQLiteScheduleStorage) Get(ctx context.Context, accountID, id string) (*core.Schedule, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE account_id = ? AND id = ?`, accountID, id)

	schedule, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule %q: %w", id, ErrScheduleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// List returns the account's schedules ordered by name.
func (s *SQLiteScheduleStorage) List(ctx context.Context, accountID string, limit, offset int) ([]*core.Schedule, int64, error) {
	var total int64
	if err := s.db.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedules WHERE account_id = ?`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count schedules: %w", err)
	}

	if limit <= 0 {
		limit = core.DefaultPageLimit
	}

	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE account_id = ?
		ORDER BY name
		LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*core.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, total, rows.Err()
}

// Update rewrites the schedule definition, including its next fire time.
func (s *SQLiteScheduleStorage) Update(ctx context.Context, schedule *core.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()

	var payload interface{}
	if len(schedule.Payload) > 0 {
		payload = string(schedule.Payload)
	}

	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE schedules
		SET playbook_id = ?, name = ?, cron = ?, interval_ns = ?, fire_at = ?,
			enabled = ?, next_fire_time = ?, payload = ?, updated_at = ?
		WHERE account_id = ? AND id = ?`,
		schedule.PlaybookID, schedule.Name,
		nullIfEmpty(schedule.Cron), int64(schedule.Interval), timeOrNull(schedule.At),
		boolToInt(schedule.Enabled), schedule.NextFireTime.UTC().Format(time.RFC3339Nano),
		payload, schedule.UpdatedAt.Format(time.RFC3339Nano),
		schedule.AccountID, schedule.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("schedule %q: %w", schedule.Name, ErrDuplicateName)
		}
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("schedule %q: %w", schedule.ID, ErrScheduleNotFound)
	}
	return nil
}

// Delete removes a schedule.
func (s *SQLiteScheduleStorage) Delete(ctx context.Context, accountID, id string) error {
	result, err := s.db.WriteDB.ExecContext(ctx,
		`DELETE FROM schedules WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("schedule %q: %w", id, ErrScheduleNotFound)
	}

	s.logger.Infow("Schedule deleted", "schedule_id", id, "account_id", accountID)
	return nil
}

// ListDue returns enabled schedules whose next fire time has elapsed.
func (s *SQLiteScheduleStorage) ListDue(ctx context.Context, now time.Time) ([]*core.Schedule, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND next_fire_time <= ?
		ORDER BY next_fire_time`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*core.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// AdvanceNextFire consumes one fire by moving next_fire_time forward only if
// it still holds the observed value. A zero next time marks a one-shot
// schedule as fired by disabling it.
func (s *SQLiteScheduleStorage) AdvanceNextFire(ctx context.Context, id string, observed, next time.Time) (bool, error) {
	var result sql.Result
	var err error

	if next.IsZero() {
		result, err = s.db.WriteDB.ExecContext(ctx, `
			UPDATE schedules SET enabled = 0, updated_at = ?
			WHERE id = ? AND next_fire_time = ? AND enabled = 1`,
			time.Now().UTC().Format(time.RFC3339Nano),
			id, observed.UTC().Format(time.RFC3339Nano))
	} else {
		result, err = s.db.WriteDB.ExecContext(ctx, `
			UPDATE schedules SET next_fire_time = ?, updated_at = ?
			WHERE id = ? AND next_fire_time = ? AND enabled = 1`,
			next.UTC().Format(time.RFC3339Nano),
			time.Now().UTC().Format(time.RFC3339Nano),
			id, observed.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return false, fmt.Errorf("failed to advance schedule fire time: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check fire advancement: %w", err)
	}
	return affected == 1, nil
}

// RecordFireResult stores the outcome of the most recent fire attempt so
// firing failures stay visible to queries.
func (s *SQLiteScheduleStorage) RecordFireResult(ctx context.Context, id string, at time.Time, status core.FireStatus, fireErr string) error {
	_, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE schedules SET last_fire_time = ?, last_fire_status = ?, last_error = ?
		WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), string(status), nullIfEmpty(fireErr), id)
	if err != nil {
		return fmt.Errorf("failed to record fire result: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSchedule(row rowScanner) (*core.Schedule, error) {
	var (
		sch                  core.Schedule
		cron                 sql.NullString
		intervalNS           int64
		fireAt               sql.NullString
		enabled              int
		nextFire, createdAt  string
		updatedAt            string
		payload              sql.NullString
		lastFire, lastStatus sql.NullString
		lastError            sql.NullString
	)

	err := row.Scan(&sch.ID, &sch.AccountID, &sch.PlaybookID, &sch.Name,
		&cron, &intervalNS, &fireAt, &enabled, &nextFire, &payload,
		&lastFire, &lastStatus, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sch.Cron = cron.String
	sch.Interval = time.Duration(intervalNS)
	sch.Enabled = enabled == 1
	if payload.Valid {
		sch.Payload = json.RawMessage(payload.String)
	}
	sch.LastFireStatus = core.FireStatus(lastStatus.String)
	sch.LastError = lastError.String

	if sch.At, err = parseNullTime("fire_at", fireAt); err != nil {
		return nil, err
	}
	if sch.NextFireTime, err = parseTime("next_fire_time", nextFire); err != nil {
		return nil, err
	}
	if sch.LastFireTime, err = parseNullTime("last_fire_time", lastFire); err != nil {
		return nil, err
	}
	if sch.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if sch.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &sch, nil
}
