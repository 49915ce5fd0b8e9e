package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/mathwhiz/internal/llm"
	"github.com/pavelanni/mathwhiz/internal/model"
)

// maxBatchAnswers caps a grade-batch request.
const maxBatchAnswers = 50

type answerRequest struct {
	QuestionID  int64  `json:"question_id"`
	Answer      string `json:"answer"`
	Drawing     []byte `json:"drawing,omitempty"` // base64 PNG or JPEG
	DrawingMIME string `json:"drawing_mime,omitempty"`
}

type gradedAnswer struct {
	llm.GradeResult
	AttemptID int64 `json:"attempt_id,omitempty"`
}

// gradeInput checks that the user may answer the question and builds the
// grading input. It writes the error response itself.
func (h *Handler) gradeInput(w http.ResponseWriter, r *http.Request, in answerRequest) (llm.GradeInput, bool) {
	if in.QuestionID <= 0 {
		missingField(w, r, "question_id")
		return llm.GradeInput{}, false
	}
	switch in.DrawingMIME {
	case "", "image/png", "image/jpeg":
	default:
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return llm.GradeInput{}, false
	}

	q, err := h.store.GetQuestion(in.QuestionID)
	if err != nil {
		storeError(w, r, "failed to get question", err, "QuestionNotFound")
		return llm.GradeInput{}, false
	}
	user := model.UserFromContext(r.Context())
	switch user.Role {
	case model.UserRoleStudent:
		enrolled, err := h.store.IsEnrolled(q.ClassID, user.ID)
		if err != nil {
			internalError(w, r, "failed to check enrollment", err)
			return llm.GradeInput{}, false
		}
		if !enrolled {
			writeError(w, r, http.StatusForbidden, "Forbidden")
			return llm.GradeInput{}, false
		}
	case model.UserRoleTeacher:
		c, err := h.store.GetClass(q.ClassID)
		if err != nil {
			storeError(w, r, "failed to get class", err, "ClassNotFound")
			return llm.GradeInput{}, false
		}
		if c.TeacherID != user.ID {
			writeError(w, r, http.StatusForbidden, "Forbidden")
			return llm.GradeInput{}, false
		}
	}

	return llm.GradeInput{
		QuestionID:     q.ID,
		Question:       q.Text,
		ExpectedAnswer: q.Answer,
		Answer:         strings.TrimSpace(in.Answer),
		Drawing:        in.Drawing,
		DrawingMIME:    in.DrawingMIME,
		Grade:          q.Grade,
	}, true
}

// recordAttempt stores a student's graded answer. Answers from teachers
// trying out their questions are not stored.
func (h *Handler) recordAttempt(r *http.Request, in llm.GradeInput, res llm.GradeResult) int64 {
	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleStudent {
		return 0
	}
	id, err := h.store.RecordAttempt(model.Attempt{
		StudentID:   user.ID,
		QuestionID:  in.QuestionID,
		Answer:      in.Answer,
		Drawing:     len(in.Drawing) > 0,
		Correct:     res.Correct,
		Score:       res.Score,
		Feedback:    res.Feedback,
		NeedsReview: res.NeedsReview,
	})
	if err != nil {
		slog.Error("failed to record attempt", "student_id", user.ID, "question_id", in.QuestionID, "error", err)
		return 0
	}
	return id
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	gi, ok := h.gradeInput(w, r, in)
	if !ok {
		return
	}

	res, err := h.llm.GradeAnswer(r.Context(), gi)
	if err != nil {
		llmError(w, r, "grading failed", err)
		return
	}
	writeJSON(w, http.StatusOK, gradedAnswer{GradeResult: *res, AttemptID: h.recordAttempt(r, gi, *res)})
}

type batchRequest struct {
	Answers []answerRequest `json:"answers"`
}

// handleGradeBatch grades several answers at once. Answers the model could
// not grade come back flagged for review rather than failing the batch.
func (h *Handler) handleGradeBatch(w http.ResponseWriter, r *http.Request) {
	var in batchRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if len(in.Answers) == 0 {
		missingField(w, r, "answers")
		return
	}
	if len(in.Answers) > maxBatchAnswers {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return
	}

	inputs := make([]llm.GradeInput, 0, len(in.Answers))
	for _, a := range in.Answers {
		gi, ok := h.gradeInput(w, r, a)
		if !ok {
			return
		}
		inputs = append(inputs, gi)
	}

	results, err := h.llm.GradeBatch(r.Context(), inputs)
	if err != nil {
		llmError(w, r, "batch grading failed", err)
		return
	}
	out := make([]gradedAnswer, len(results))
	for i, res := range results {
		out[i] = gradedAnswer{GradeResult: res, AttemptID: h.recordAttempt(r, inputs[i], res)}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListAttempts returns every attempt in a class to its teacher, and a
// student's own attempts to the student.
func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.memberClass(w, r)
	if !ok {
		return
	}
	user := model.UserFromContext(r.Context())
	var (
		attempts []model.Attempt
		err      error
	)
	if user.Role == model.UserRoleStudent {
		attempts, err = h.store.ListAttemptsByStudent(c.ID, user.ID)
	} else {
		attempts, err = h.store.ListAttemptsByClass(c.ID)
	}
	if err != nil {
		internalError(w, r, "failed to list attempts", err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
