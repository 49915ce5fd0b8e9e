package store

import (
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

const attemptColumns = `a.id, a.student_id, a.question_id, a.answer, a.drawing, a.correct, a.score, a.feedback, a.needs_review, a.created_at`

// RecordAttempt stores a graded answer.
func (s *Store) RecordAttempt(a model.Attempt) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO attempts (student_id, question_id, answer, drawing, correct, score, feedback, needs_review, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.StudentID, a.QuestionID, a.Answer, a.Drawing, a.Correct, a.Score, a.Feedback, a.NeedsReview, a.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAttemptsByStudent returns a student's attempts in a class, oldest first.
func (s *Store) ListAttemptsByStudent(classID, studentID int64) ([]model.Attempt, error) {
	return s.listAttempts(
		`SELECT `+attemptColumns+` FROM attempts a JOIN questions q ON q.id = a.question_id
		 WHERE q.class_id = ? AND a.student_id = ? ORDER BY a.id`, classID, studentID)
}

// ListAttemptsByClass returns every attempt on a class's questions.
func (s *Store) ListAttemptsByClass(classID int64) ([]model.Attempt, error) {
	return s.listAttempts(
		`SELECT `+attemptColumns+` FROM attempts a JOIN questions q ON q.id = a.question_id
		 WHERE q.class_id = ? ORDER BY a.id`, classID)
}

func (s *Store) listAttempts(query string, args ...any) ([]model.Attempt, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.StudentID, &a.QuestionID, &a.Answer, &a.Drawing, &a.Correct, &a.Score, &a.Feedback, &a.NeedsReview, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
