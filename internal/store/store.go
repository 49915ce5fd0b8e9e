package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record the caller named does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses a race or violates a
	// uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// deleteBatchSize caps the rows removed per transaction in bulk deletes.
const deleteBatchSize = 500

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		grade INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		grade INTEGER NOT NULL DEFAULT 0,
		join_code TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (teacher_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		class_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (class_id, student_id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS question_sets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		source TEXT NOT NULL,
		created_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_id INTEGER NOT NULL,
		set_id INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		options TEXT NOT NULL DEFAULT '[]',
		hint TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		grade INTEGER NOT NULL DEFAULT 0,
		drawing BOOLEAN NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'manual',
		position INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_questions_class ON questions(class_id, set_id, position);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		drawing BOOLEAN NOT NULL DEFAULT 0,
		correct BOOLEAN NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		needs_review BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_question ON attempts(question_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_student ON attempts(student_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		class_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		progress TEXT NOT NULL DEFAULT '',
		input TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS uploads (
		owner_id INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		job_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (owner_id, sha256)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// deleteInBatches runs query repeatedly, each time in its own transaction,
// until it removes fewer than deleteBatchSize rows. The last placeholder in
// query must be a LIMIT; it receives the batch size.
func (s *Store) deleteInBatches(query string, args ...any) (int64, error) {
	var total int64
	for {
		n, err := s.deleteBatch(query, append(args[:len(args):len(args)], deleteBatchSize)...)
		if err != nil {
			return total, err
		}
		total += n
		if n < deleteBatchSize {
			return total, nil
		}
	}
}

func (s *Store) deleteBatch(query string, args ...any) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
