package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS objects (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		status TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		expected TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (bucket, key)
	);

	CREATE INDEX IF NOT EXISTS idx_objects_status ON objects(status);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("database store is closed")
	}
	return nil
}

// GetRecord retrieves an object record, or nil when none exists
func (s *SQLiteStore) GetRecord(bucket, key string) (*Record, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	var result *Record
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getRecordInternal(bucket, key)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getRecordInternal(bucket, key string) (*Record, error) {
	query := `
	SELECT bucket, key, status, content_type, expected, run_id, attempts, last_error, updated_at
	FROM objects WHERE bucket = ? AND key = ?
	`

	record, err := scanRecord(s.db.QueryRow(query, bucket, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// SaveRecord saves or updates an object record. Attempts is incremented on every save.
func (s *SQLiteStore) SaveRecord(record *Record) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent workers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveRecordWithTransaction(record)
	})
}

func (s *SQLiteStore) saveRecordWithTransaction(record *Record) error {
	record.UpdatedAt = time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO objects
	(bucket, key, status, content_type, expected, run_id, attempts, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(bucket, key) DO UPDATE SET
		status = excluded.status,
		content_type = excluded.content_type,
		expected = excluded.expected,
		run_id = excluded.run_id,
		attempts = objects.attempts + 1,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		record.Bucket,
		record.Key,
		record.Status,
		record.ContentType,
		record.Expected,
		record.RunID,
		record.LastError,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return tx.Commit()
}

// ListByStatus returns all records with the given status, oldest first
func (s *SQLiteStore) ListByStatus(status Status) ([]*Record, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	query := `
	SELECT bucket, key, status, content_type, expected, run_id, attempts, last_error, updated_at
	FROM objects WHERE status = ?
	ORDER BY updated_at ASC, key ASC
	`

	rows, err := s.db.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var record Record
	var lastError sql.NullString

	err := row.Scan(
		&record.Bucket,
		&record.Key,
		&record.Status,
		&record.ContentType,
		&record.Expected,
		&record.RunID,
		&record.Attempts,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}

		delay := baseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(attempt*10) * time.Millisecond
		time.Sleep(delay + jitter)
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
