package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

const questionColumns = `id, class_id, set_id, text, answer, options, hint, topic, grade, drawing, source, position`

func scanQuestion(row interface{ Scan(...any) error }) (*model.Question, error) {
	var q model.Question
	var options string
	if err := row.Scan(&q.ID, &q.ClassID, &q.SetID, &q.Text, &q.Answer, &options, &q.Hint, &q.Topic, &q.Grade, &q.Drawing, &q.Source, &q.Position); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return nil, fmt.Errorf("question %d options: %w", q.ID, err)
	}
	if len(q.Options) == 0 {
		// nil means free response everywhere else.
		q.Options = nil
	}
	return &q, nil
}

func encodeOptions(opts []string) (string, error) {
	if len(opts) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(opts)
	return string(b), err
}

// CreateQuestionSet stores a set and its questions in one transaction. The
// questions are assigned to the set's class and returned with their IDs.
func (s *Store) CreateQuestionSet(set model.QuestionSet, questions []model.Question) (*model.QuestionSet, []model.Question, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	set.CreatedAt = time.Now()
	res, err := tx.Exec(
		`INSERT INTO question_sets (class_id, title, source, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		set.ClassID, set.Title, set.Source, set.CreatedBy, set.CreatedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	if set.ID, err = res.LastInsertId(); err != nil {
		return nil, nil, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO questions (class_id, set_id, text, answer, options, hint, topic, grade, drawing, source, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, nil, err
	}
	defer stmt.Close()

	out := make([]model.Question, len(questions))
	for i, q := range questions {
		q.ClassID = set.ClassID
		q.SetID = set.ID
		q.Source = set.Source
		q.Position = i
		opts, err := encodeOptions(q.Options)
		if err != nil {
			return nil, nil, err
		}
		res, err := stmt.Exec(q.ClassID, q.SetID, q.Text, q.Answer, opts, q.Hint, q.Topic, q.Grade, q.Drawing, q.Source, q.Position)
		if err != nil {
			return nil, nil, fmt.Errorf("insert question %d: %w", i, err)
		}
		if q.ID, err = res.LastInsertId(); err != nil {
			return nil, nil, err
		}
		out[i] = q
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &set, out, nil
}

// GetQuestion returns a question by ID, or ErrNotFound.
func (s *Store) GetQuestion(id int64) (*model.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	return q, err
}

// ListQuestions returns a class's questions. A non-zero setID restricts the
// result to one set.
func (s *Store) ListQuestions(classID, setID int64) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE class_id = ?`
	args := []any{classID}
	if setID != 0 {
		query += ` AND set_id = ?`
		args = append(args, setID)
	}
	rows, err := s.db.Query(query+` ORDER BY set_id, position, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// UpdateQuestionOptions replaces a question's multiple-choice options.
func (s *Store) UpdateQuestionOptions(id int64, options []string) error {
	opts, err := encodeOptions(options)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE questions SET options = ? WHERE id = ?`, opts, id)
	if err != nil {
		return err
	}
	return requireRow(res, "question", id)
}

// DeleteQuestion removes a question and its attempts.
func (s *Store) DeleteQuestion(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireRow(res, "question", id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM attempts WHERE question_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListQuestionSets returns the sets of a class, newest first.
func (s *Store) ListQuestionSets(classID int64) ([]model.QuestionSet, error) {
	rows, err := s.db.Query(
		`SELECT id, class_id, title, source, created_by, created_at
		 FROM question_sets WHERE class_id = ? ORDER BY id DESC`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sets []model.QuestionSet
	for rows.Next() {
		var qs model.QuestionSet
		if err := rows.Scan(&qs.ID, &qs.ClassID, &qs.Title, &qs.Source, &qs.CreatedBy, &qs.CreatedAt); err != nil {
			return nil, err
		}
		sets = append(sets, qs)
	}
	return sets, rows.Err()
}

// QuestionCount returns the number of questions in a class.
func (s *Store) QuestionCount(classID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE class_id = ?`, classID).Scan(&count)
	return count, err
}
