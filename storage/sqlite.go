package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections for all repositories. Separate read
// and write pools leverage WAL mode: one writer, many concurrent readers.
type SQLite struct {
	DB      *sql.DB // Write pool (same as WriteDB, kept as the transaction anchor)
	WriteDB *sql.DB // Write-only pool (MaxOpenConns=1 for WAL single writer)
	ReadDB  *sql.DB // Read-only pool (query_only, concurrent reads)
	Path    string
	Logger  *zap.SugaredLogger
}

// configureSQLiteConnection applies the standard PRAGMA set to a pool:
// WAL journal, foreign keys, and a busy timeout so writers queue instead of
// failing immediately with SQLITE_BUSY.
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	_, err := db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys=ON")
	if err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	var fkEnabled int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	if err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	_, err = db.Exec("PRAGMA busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal".
	var journalMode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite %s pool: journal mode %s, foreign keys enabled", poolType, journalMode)

	return nil
}

// NewSQLite opens the database, configures both pools, and creates tables.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see the same data.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}

	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// WAL mode requires exactly one writer at a time.
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}

	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	// Enforce read-only access at the SQLite level for the read pool.
	_, err = readDB.Exec("PRAGMA query_only=ON")
	if err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	sqlite := &SQLite{
		DB:      writeDB,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s with separate read/write pools", dbPath)

	return sqlite, nil
}

// WithTransaction executes fn inside a transaction on the write pool,
// rolling back on error or panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() {
	if s.WriteDB != nil {
		_ = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		_ = s.ReadDB.Close()
	}
}

// createTables creates all tables and indexes.
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS playbooks (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		document TEXT NOT NULL, -- JSON workflow
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(account_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_playbooks_account ON playbooks(account_id);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		playbook_id TEXT,
		playbook_name TEXT,
		workflow TEXT NOT NULL, -- JSON snapshot
		input TEXT,
		state TEXT NOT NULL,
		cursor TEXT,
		pause_reason TEXT,
		failure_reason TEXT,
		error TEXT,
		parent_execution_id TEXT,
		schedule_id TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_executions_account_state ON executions(account_id, state);
	CREATE INDEX IF NOT EXISTS idx_executions_playbook ON executions(account_id, playbook_id);
	CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);

	CREATE TABLE IF NOT EXISTS execution_results (
		execution_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		step_id TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		PRIMARY KEY (execution_id, seq)
	);

	CREATE TABLE IF NOT EXISTS inquiries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response_schema TEXT,
		state TEXT NOT NULL,
		response TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		answered_at TEXT,
		answered_by TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_inquiries_pending_step
		ON inquiries(execution_id, step_id) WHERE state = 'pending';
	CREATE INDEX IF NOT EXISTS idx_inquiries_account_state ON inquiries(account_id, state);
	CREATE INDEX IF NOT EXISTS idx_inquiries_expiry ON inquiries(expires_at) WHERE state = 'pending';

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		playbook_id TEXT NOT NULL,
		name TEXT NOT NULL,
		cron TEXT,
		interval_ns INTEGER NOT NULL DEFAULT 0,
		fire_at TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		next_fire_time TEXT NOT NULL,
		payload TEXT,
		last_fire_time TEXT,
		last_fire_status TEXT,
		last_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(account_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(next_fire_time) WHERE enabled = 1;
	`

	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// validateDatabasePath rejects paths that escape the working tree.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("database path must not contain path traversal sequences")
	}
	return nil
}

// isUniqueConstraintError reports whether err is a SQLite uniqueness
// violation. The driver does not expose a typed error for this.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullIfEmpty converts empty strings to NULL for nullable columns.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// timeOrNull formats a nullable timestamp.
func timeOrNull(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a required RFC3339 timestamp column.
func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupted %s timestamp: %w", field, err)
	}
	return t, nil
}

// parseNullTime parses a nullable RFC3339 timestamp column.
func parseNullTime(field string, value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(field, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
