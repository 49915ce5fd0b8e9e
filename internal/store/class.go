package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

// joinCodeAlphabet leaves out characters children confuse (0/O, 1/I/L).
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const joinCodeLen = 6

const classColumns = `id, teacher_id, name, grade, join_code, created_at`

func scanClass(row interface{ Scan(...any) error }) (*model.Class, error) {
	var c model.Class
	if err := row.Scan(&c.ID, &c.TeacherID, &c.Name, &c.Grade, &c.JoinCode, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func generateJoinCode() (string, error) {
	b := make([]byte, joinCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = joinCodeAlphabet[int(b[i])%len(joinCodeAlphabet)]
	}
	return string(b), nil
}

// NormalizeJoinCode uppercases a code typed by a student and drops spaces
// and dashes.
func NormalizeJoinCode(code string) string {
	code = strings.ToUpper(code)
	return strings.NewReplacer(" ", "", "-", "").Replace(code)
}

// CreateClass inserts a class with a fresh, unique join code.
func (s *Store) CreateClass(c model.Class) (*model.Class, error) {
	c.CreatedAt = time.Now()
	for range 5 {
		code, err := generateJoinCode()
		if err != nil {
			return nil, err
		}
		res, err := s.db.Exec(
			`INSERT INTO classes (teacher_id, name, grade, join_code, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.TeacherID, c.Name, c.Grade, code, c.CreatedAt,
		)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		c.JoinCode = code
		return &c, nil
	}
	return nil, fmt.Errorf("allocate join code: %w", ErrConflict)
}

// GetClass returns a class by ID, or ErrNotFound.
func (s *Store) GetClass(id int64) (*model.Class, error) {
	c, err := scanClass(s.db.QueryRow(`SELECT `+classColumns+` FROM classes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("class %d: %w", id, ErrNotFound)
	}
	return c, err
}

// GetClassByJoinCode returns the class with the given code, or nil.
func (s *Store) GetClassByJoinCode(code string) (*model.Class, error) {
	c, err := scanClass(s.db.QueryRow(`SELECT `+classColumns+` FROM classes WHERE join_code = ?`, NormalizeJoinCode(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListClassesByTeacher returns a teacher's classes, oldest first.
func (s *Store) ListClassesByTeacher(teacherID int64) ([]model.Class, error) {
	return s.listClasses(`SELECT `+classColumns+` FROM classes WHERE teacher_id = ? ORDER BY id`, teacherID)
}

// ListClassesByStudent returns the classes a student is enrolled in.
func (s *Store) ListClassesByStudent(studentID int64) ([]model.Class, error) {
	return s.listClasses(
		`SELECT c.id, c.teacher_id, c.name, c.grade, c.join_code, c.created_at
		 FROM classes c JOIN enrollments e ON e.class_id = c.id
		 WHERE e.student_id = ? ORDER BY c.id`, studentID)
}

func (s *Store) listClasses(query string, args ...any) ([]model.Class, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var classes []model.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, *c)
	}
	return classes, rows.Err()
}

// UpdateClass changes a class's name and grade.
func (s *Store) UpdateClass(id int64, name string, grade int) error {
	res, err := s.db.Exec(`UPDATE classes SET name = ?, grade = ? WHERE id = ?`, name, grade, id)
	if err != nil {
		return err
	}
	return requireRow(res, "class", id)
}

// DeleteClass removes a class and everything that belongs to it. Attempts
// and enrollments can be numerous, so they are removed in batches of
// deleteBatchSize rows, each batch in its own transaction.
func (s *Store) DeleteClass(id int64) error {
	if _, err := s.GetClass(id); err != nil {
		return err
	}

	attempts, err := s.deleteInBatches(
		`DELETE FROM attempts WHERE id IN (
			SELECT a.id FROM attempts a JOIN questions q ON q.id = a.question_id
			WHERE q.class_id = ? LIMIT ?)`, id)
	if err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	enrollments, err := s.deleteInBatches(
		`DELETE FROM enrollments WHERE rowid IN (
			SELECT rowid FROM enrollments WHERE class_id = ? LIMIT ?)`, id)
	if err != nil {
		return fmt.Errorf("delete enrollments: %w", err)
	}
	questions, err := s.deleteInBatches(
		`DELETE FROM questions WHERE id IN (
			SELECT id FROM questions WHERE class_id = ? LIMIT ?)`, id)
	if err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM question_sets WHERE class_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM classes WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("deleted class", "id", id, "attempts", attempts, "enrollments", enrollments, "questions", questions)
	return nil
}

// Enroll adds a student to a class. Joining twice is not an error.
func (s *Store) Enroll(classID, studentID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO enrollments (class_id, student_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(class_id, student_id) DO NOTHING`,
		classID, studentID, time.Now(),
	)
	return err
}

// IsEnrolled reports whether a student belongs to a class.
func (s *Store) IsEnrolled(classID, studentID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM enrollments WHERE class_id = ? AND student_id = ?`, classID, studentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListStudents returns the students enrolled in a class.
func (s *Store) ListStudents(classID int64) ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT u.id, u.username, u.display_name, u.password_hash, u.role, u.grade, u.active, u.created_at
		 FROM users u JOIN enrollments e ON e.student_id = u.id
		 WHERE e.class_id = ? ORDER BY u.display_name, u.id`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// RemoveStudent drops a student from a class along with their attempts on
// the class's questions.
func (s *Store) RemoveStudent(classID, studentID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM enrollments WHERE class_id = ? AND student_id = ?`, classID, studentID)
	if err != nil {
		return err
	}
	if err := requireRow(res, "enrollment", fmt.Sprintf("%d/%d", classID, studentID)); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`DELETE FROM attempts WHERE student_id = ?
		 AND question_id IN (SELECT id FROM questions WHERE class_id = ?)`,
		studentID, classID,
	); err != nil {
		return err
	}
	return tx.Commit()
}
