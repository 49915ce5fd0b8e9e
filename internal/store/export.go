package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

// ExportClass builds export-ready results for every student in a class.
func (s *Store) ExportClass(classID int64) (*model.ClassExport, error) {
	class, err := s.GetClass(classID)
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(classID, 0)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	students, err := s.ListStudents(classID)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	results := make([]model.StudentResult, 0, len(students))
	for _, st := range students {
		attempts, err := s.ListAttemptsByStudent(classID, st.ID)
		if err != nil {
			return nil, fmt.Errorf("attempts for student %d: %w", st.ID, err)
		}

		r := model.StudentResult{
			Username:    st.Username,
			DisplayName: st.DisplayName,
			Attempts:    len(attempts),
			Answers:     make([]model.AttemptResult, 0, len(attempts)),
		}
		var total float64
		for _, a := range attempts {
			q := byID[a.QuestionID]
			if a.Correct {
				r.Correct++
			}
			total += a.Score
			r.Answers = append(r.Answers, model.AttemptResult{
				Question: q.Text,
				Topic:    q.Topic,
				Answer:   a.Answer,
				Correct:  a.Correct,
				Score:    a.Score,
				Feedback: a.Feedback,
				At:       a.CreatedAt,
			})
		}
		if len(attempts) > 0 {
			r.AvgScore = total / float64(len(attempts))
		}
		results = append(results, r)
	}

	return &model.ClassExport{
		ClassID:    class.ID,
		Name:       class.Name,
		Grade:      class.Grade,
		ExportedAt: time.Now(),
		Questions:  len(questions),
		Students:   results,
	}, nil
}
