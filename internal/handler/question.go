package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	appI18n "github.com/pavelanni/mathwhiz/internal/i18n"
	"github.com/pavelanni/mathwhiz/internal/llm"
	"github.com/pavelanni/mathwhiz/internal/model"
)

// questionSetResponse is returned when a set of questions is created.
type questionSetResponse struct {
	Set       *model.QuestionSet `json:"set"`
	Questions []model.Question   `json:"questions"`
	Message   string             `json:"message"`
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.memberClass(w, r)
	if !ok {
		return
	}
	var setID int64
	if v := r.URL.Query().Get("setId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BadRequest")
			return
		}
		setID = id
	}

	questions, err := h.store.ListQuestions(c.ID, setID)
	if err != nil {
		internalError(w, r, "failed to list questions", err)
		return
	}
	if model.UserFromContext(r.Context()).Role == model.UserRoleStudent {
		for i := range questions {
			questions[i].Answer = ""
		}
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleListSets(w http.ResponseWriter, r *http.Request) {
	c, ok := h.memberClass(w, r)
	if !ok {
		return
	}
	sets, err := h.store.ListQuestionSets(c.ID)
	if err != nil {
		internalError(w, r, "failed to list question sets", err)
		return
	}
	if sets == nil {
		sets = []model.QuestionSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

type createQuestionsRequest struct {
	Title     string           `json:"title"`
	Questions []model.Question `json:"questions"`
}

// handleCreateQuestions stores teacher-written questions as a new set.
func (h *Handler) handleCreateQuestions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	var in createQuestionsRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if len(in.Questions) == 0 {
		missingField(w, r, "questions")
		return
	}
	if len(in.Questions) > h.config.MaxQuestions {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	for i := range in.Questions {
		q := &in.Questions[i]
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			missingField(w, r, fmt.Sprintf("questions[%d].question", i))
			return
		}
		if q.Grade == 0 {
			q.Grade = c.Grade
		}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Questions " + time.Now().Format("2006-01-02")
	}
	h.saveSet(w, r, c, title, model.SourceManual, in.Questions)
}

func (h *Handler) saveSet(w http.ResponseWriter, r *http.Request, c *model.Class, title string, source model.QuestionSource, qs []model.Question) {
	user := model.UserFromContext(r.Context())
	set, saved, err := h.store.CreateQuestionSet(model.QuestionSet{
		ClassID:   c.ID,
		Title:     title,
		Source:    source,
		CreatedBy: user.ID,
	}, qs)
	if err != nil {
		internalError(w, r, "failed to save questions", err)
		return
	}
	slog.Info("question set created", "class_id", c.ID, "set_id", set.ID, "source", source, "count", len(saved))
	writeJSON(w, http.StatusCreated, questionSetResponse{
		Set:       set,
		Questions: saved,
		Message:   appI18n.Tp(r.Context(), "QuestionsCreated", len(saved)),
	})
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		storeError(w, r, "failed to get question", err, "QuestionNotFound")
		return
	}
	c, err := h.store.GetClass(q.ClassID)
	if err != nil {
		storeError(w, r, "failed to get class", err, "ClassNotFound")
		return
	}
	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleAdmin && c.TeacherID != user.ID {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	if err := h.store.DeleteQuestion(id); err != nil {
		storeError(w, r, "failed to delete question", err, "QuestionNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	llm.GenerateSpec
	Title string `json:"title"`
}

// handleGenerateQuestions asks the model for a new set. Multiple-choice sets
// get their distractors in a second pass.
func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	var in generateRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	in.Topic = strings.TrimSpace(in.Topic)
	if in.Topic == "" {
		missingField(w, r, "topic")
		return
	}
	switch in.Type {
	case "", llm.TypeFreeResponse, llm.TypeMultipleChoice, llm.TypeDrawing:
	default:
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	if in.Grade == 0 {
		in.Grade = c.Grade
	}
	if in.Count <= 0 {
		in.Count = h.config.DefaultQuestions
	}
	in.Count = min(in.Count, h.config.MaxQuestions)

	qs, err := h.llm.GenerateQuestions(r.Context(), in.GenerateSpec)
	if err != nil {
		llmError(w, r, "question generation failed", err)
		return
	}
	if in.Type == llm.TypeMultipleChoice {
		if qs, err = h.llm.FillOptions(r.Context(), qs); err != nil {
			llmError(w, r, "option generation failed", err)
			return
		}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.Topic
	}
	h.saveSet(w, r, c, title, model.SourceGenerated, qs)
}

type fillOptionsRequest struct {
	QuestionIDs []int64 `json:"question_ids"`
}

// handleFillOptions adds multiple-choice options to questions of a class.
// Without question IDs every question lacking options is filled.
func (h *Handler) handleFillOptions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	var in fillOptionsRequest
	if !decodeJSON(w, r, &in) {
		return
	}

	all, err := h.store.ListQuestions(c.ID, 0)
	if err != nil {
		internalError(w, r, "failed to list questions", err)
		return
	}
	wanted := make(map[int64]bool, len(in.QuestionIDs))
	for _, id := range in.QuestionIDs {
		wanted[id] = true
	}
	var targets []model.Question
	for _, q := range all {
		if len(wanted) == 0 || wanted[q.ID] {
			targets = append(targets, q)
		}
	}
	if len(wanted) > 0 && len(targets) != len(wanted) {
		writeError(w, r, http.StatusNotFound, "QuestionNotFound")
		return
	}

	filled, err := h.llm.FillOptions(r.Context(), targets)
	if err != nil {
		llmError(w, r, "option generation failed", err)
		return
	}
	updated := []model.Question{}
	for i, q := range filled {
		if len(q.Options) == 0 || len(targets[i].Options) > 0 {
			continue
		}
		if err := h.store.UpdateQuestionOptions(q.ID, q.Options); err != nil {
			storeError(w, r, "failed to save options", err, "QuestionNotFound")
			return
		}
		updated = append(updated, q)
	}
	slog.Info("options filled", "class_id", c.ID, "requested", len(targets), "updated", len(updated))
	writeJSON(w, http.StatusOK, updated)
}
