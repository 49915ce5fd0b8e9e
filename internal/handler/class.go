package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/store"
)

// ownedClass loads the {classID} class and checks that the current user
// teaches it. Admins may act on any class.
func (h *Handler) ownedClass(w http.ResponseWriter, r *http.Request) (*model.Class, bool) {
	c, ok := h.loadClass(w, r)
	if !ok {
		return nil, false
	}
	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleAdmin && c.TeacherID != user.ID {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return nil, false
	}
	return c, true
}

// memberClass loads the {classID} class and checks that the current user
// teaches it or is enrolled in it.
func (h *Handler) memberClass(w http.ResponseWriter, r *http.Request) (*model.Class, bool) {
	c, ok := h.loadClass(w, r)
	if !ok {
		return nil, false
	}
	user := model.UserFromContext(r.Context())
	switch user.Role {
	case model.UserRoleAdmin:
		return c, true
	case model.UserRoleTeacher:
		if c.TeacherID == user.ID {
			return c, true
		}
	case model.UserRoleStudent:
		enrolled, err := h.store.IsEnrolled(c.ID, user.ID)
		if err != nil {
			internalError(w, r, "failed to check enrollment", err)
			return nil, false
		}
		if enrolled {
			return c, true
		}
	}
	writeError(w, r, http.StatusForbidden, "Forbidden")
	return nil, false
}

func (h *Handler) loadClass(w http.ResponseWriter, r *http.Request) (*model.Class, bool) {
	id, ok := idParam(w, r, "classID")
	if !ok {
		return nil, false
	}
	c, err := h.store.GetClass(id)
	if err != nil {
		storeError(w, r, "failed to get class", err, "ClassNotFound")
		return nil, false
	}
	return c, true
}

func (h *Handler) handleListClasses(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var (
		classes []model.Class
		err     error
	)
	if user.Role == model.UserRoleStudent {
		classes, err = h.store.ListClassesByStudent(user.ID)
	} else {
		classes, err = h.store.ListClassesByTeacher(user.ID)
	}
	if err != nil {
		internalError(w, r, "failed to list classes", err)
		return
	}
	if user.Role == model.UserRoleStudent {
		for i := range classes {
			classes[i].JoinCode = ""
		}
	}
	if classes == nil {
		classes = []model.Class{}
	}
	writeJSON(w, http.StatusOK, classes)
}

type classRequest struct {
	Name  string `json:"name"`
	Grade *int   `json:"grade"`
}

func (in classRequest) validate(w http.ResponseWriter, r *http.Request) bool {
	if strings.TrimSpace(in.Name) == "" {
		missingField(w, r, "name")
		return false
	}
	if in.Grade != nil && (*in.Grade < 0 || *in.Grade > 12) {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return false
	}
	return true
}

func (h *Handler) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var in classRequest
	if !decodeJSON(w, r, &in) || !in.validate(w, r) {
		return
	}
	user := model.UserFromContext(r.Context())
	c := model.Class{TeacherID: user.ID, Name: strings.TrimSpace(in.Name)}
	if in.Grade != nil {
		c.Grade = *in.Grade
	}

	created, err := h.store.CreateClass(c)
	if err != nil {
		storeError(w, r, "failed to create class", err, "NotFound")
		return
	}
	slog.Info("class created", "class_id", created.ID, "teacher_id", user.ID)
	writeJSON(w, http.StatusCreated, created)
}

type classDetail struct {
	*model.Class
	QuestionCount int `json:"question_count"`
}

func (h *Handler) handleGetClass(w http.ResponseWriter, r *http.Request) {
	c, ok := h.memberClass(w, r)
	if !ok {
		return
	}
	if model.UserFromContext(r.Context()).Role == model.UserRoleStudent {
		c.JoinCode = ""
	}
	count, err := h.store.QuestionCount(c.ID)
	if err != nil {
		internalError(w, r, "failed to count questions", err)
		return
	}
	writeJSON(w, http.StatusOK, classDetail{Class: c, QuestionCount: count})
}

func (h *Handler) handleUpdateClass(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	var in classRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Name == "" {
		in.Name = c.Name
	}
	if !in.validate(w, r) {
		return
	}
	c.Name = strings.TrimSpace(in.Name)
	if in.Grade != nil {
		c.Grade = *in.Grade
	}
	if err := h.store.UpdateClass(c.ID, c.Name, c.Grade); err != nil {
		storeError(w, r, "failed to update class", err, "ClassNotFound")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteClass(c.ID); err != nil {
		storeError(w, r, "failed to delete class", err, "ClassNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	students, err := h.store.ListStudents(c.ID)
	if err != nil {
		internalError(w, r, "failed to list students", err)
		return
	}
	if students == nil {
		students = []model.User{}
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) handleRemoveStudent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	studentID, ok := idParam(w, r, "studentID")
	if !ok {
		return
	}
	if err := h.store.RemoveStudent(c.ID, studentID); err != nil {
		storeError(w, r, "failed to remove student", err, "NotFound")
		return
	}
	slog.Info("student removed from class", "class_id", c.ID, "student_id", studentID)
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleJoinClass(w http.ResponseWriter, r *http.Request) {
	var in joinRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	code := store.NormalizeJoinCode(in.Code)
	if code == "" {
		missingField(w, r, "code")
		return
	}

	c, err := h.store.GetClassByJoinCode(code)
	if err != nil {
		internalError(w, r, "failed to look up join code", err)
		return
	}
	if c == nil {
		writeError(w, r, http.StatusNotFound, "InvalidJoinCode")
		return
	}

	user := model.UserFromContext(r.Context())
	if err := h.store.Enroll(c.ID, user.ID); err != nil {
		internalError(w, r, "failed to enroll", err)
		return
	}
	slog.Info("student joined class", "class_id", c.ID, "student_id", user.ID)
	c.JoinCode = ""
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleExportClass(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	export, err := h.store.ExportClass(c.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ClassNotFound")
		return
	}
	if err != nil {
		internalError(w, r, "failed to export class", err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
