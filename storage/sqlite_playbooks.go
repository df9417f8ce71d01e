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

// SQLitePlaybookStorage implements PlaybookStorageInterface.
type SQLitePlaybookStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// Compile-time interface compliance check
var _ PlaybookStorageInterface = (*SQLitePlaybookStorage)(nil)

// NewSQLitePlaybookStorage creates a playbook repository.
func NewSQLitePlaybookStorage(db *SQLite, logger *zap.SugaredLogger) *SQLitePlaybookStorage {
	return &SQLitePlaybookStorage{db: db, logger: logger}
}

const playbookColumns = `id, account_id, name, description, document, version, created_at, updated_at`

// Create inserts a playbook. Name uniqueness within the account is enforced
// by the schema; a duplicate surfaces as ErrDuplicateName.
func (s *SQLitePlaybookStorage) Create(ctx context.Context, playbook *core.Playbook) error {
	document, err := json.Marshal(playbook.Workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	now := time.Now().UTC()
	if playbook.CreatedAt.IsZero() {
		playbook.CreatedAt = now
	}
	playbook.UpdatedAt = now
	if playbook.Version == 0 {
		playbook.Version = 1
	}

	_, err = s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO playbooks (`+playbookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		playbook.ID, playbook.AccountID, playbook.Name,
		nullIfEmpty(playbook.Description), string(document), playbook.Version,
		playbook.CreatedAt.Format(time.RFC3339Nano), playbook.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("playbook %q: %w", playbook.Name, ErrDuplicateName)
		}
		return fmt.Errorf("failed to create playbook: %w", err)
	}

	s.logger.Infow("Playbook created",
		"playbook_id", playbook.ID,
		"account_id", playbook.AccountID,
		"name", playbook.Name)
	return nil
}

// Get resolves ref as an id first, then as a name within the account.
func (s *SQLitePlaybookStorage) Get(ctx context.Context, accountID, ref string) (*core.Playbook, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT `+playbookColumns+` FROM playbooks
		WHERE account_id = ? AND (id = ? OR name = ?)
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END
		LIMIT 1`,
		accountID, ref, ref, ref)

	playbook, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("playbook %q: %w", ref, ErrPlaybookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playbook: %w", err)
	}
	return playbook, nil
}

// List returns the account's playbooks ordered by name.
func (s *SQLitePlaybookStorage) List(ctx context.Context, accountID string, limit, offset int) ([]*core.Playbook, int64, error) {
	var total int64
	if err := s.db.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM playbooks WHERE account_id = ?`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count playbooks: %w", err)
	}

	if limit <= 0 {
		limit = core.DefaultPageLimit
	}

	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT `+playbookColumns+` FROM playbooks
		WHERE account_id = ?
		ORDER BY name
		LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list playbooks: %w", err)
	}
	defer rows.Close()

	var playbooks []*core.Playbook
	for rows.Next() {
		playbook, err := scanPlaybook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan playbook: %w", err)
		}
		playbooks = append(playbooks, playbook)
	}
	return playbooks, total, rows.Err()
}

// Update rewrites the document and bumps the version. In-flight executions
// are unaffected; they run against their own workflow snapshot.
func (s *SQLitePlaybookStorage) Update(ctx context.Context, playbook *core.Playbook) error {
	document, err := json.Marshal(playbook.Workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	playbook.UpdatedAt = time.Now().UTC()

	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE playbooks
		SET name = ?, description = ?, document = ?, version = version + 1, updated_at = ?
		WHERE account_id = ? AND id = ?`,
		playbook.Name, nullIfEmpty(playbook.Description), string(document),
		playbook.UpdatedAt.Format(time.RFC3339Nano),
		playbook.AccountID, playbook.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("playbook %q: %w", playbook.Name, ErrDuplicateName)
		}
		return fmt.Errorf("failed to update playbook: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("playbook %q: %w", playbook.ID, ErrPlaybookNotFound)
	}
	playbook.Version++
	return nil
}

// Delete removes a playbook by id or name. Callers enforce the deletion
// policy for playbooks still referenced by active executions.
func (s *SQLitePlaybookStorage) Delete(ctx context.Context, accountID, ref string) error {
	result, err := s.db.WriteDB.ExecContext(ctx, `
		DELETE FROM playbooks WHERE account_id = ? AND (id = ? OR name = ?)`,
		accountID, ref, ref)
	if err != nil {
		return fmt.Errorf("failed to delete playbook: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("playbook %q: %w", ref, ErrPlaybookNotFound)
	}

	s.logger.Infow("Playbook deleted", "account_id", accountID, "ref", ref)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlaybook(row rowScanner) (*core.Playbook, error) {
	var (
		p                    core.Playbook
		description          sql.NullString
		document             string
		createdAt, updatedAt string
	)

	err := row.Scan(&p.ID, &p.AccountID, &p.Name, &description, &document,
		&p.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Description = description.String

	if err := json.Unmarshal([]byte(document), &p.Workflow); err != nil {
		return nil, fmt.Errorf("corrupted workflow document for playbook %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
