package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/mathwhiz/internal/model"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := model.UserRole(r.URL.Query().Get("role"))
	if role != "" && !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	users, err := h.store.ListUsers(role)
	if err != nil {
		internalError(w, r, "failed to list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	credentials
	Role model.UserRole `json:"role"`
}

// handleCreateUser creates an account of any role. Without a role it
// creates a teacher.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in createUserRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Role == "" {
		in.Role = model.UserRoleTeacher
	}
	if !in.Role.Valid() {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return
	}

	user, ok := h.newUser(w, r, in.credentials, in.Role)
	if !ok {
		return
	}
	slog.Info("user created by admin", "user_id", user.ID, "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	var in setActiveRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Active == nil {
		missingField(w, r, "active")
		return
	}
	if me := model.UserFromContext(r.Context()); me.ID == id && !*in.Active {
		writeError(w, r, http.StatusConflict, "Conflict")
		return
	}

	if err := h.store.SetUserActive(id, *in.Active); err != nil {
		storeError(w, r, "failed to set user active", err, "NotFound")
		return
	}
	slog.Info("user active flag changed", "user_id", id, "active", *in.Active)
	w.WriteHeader(http.StatusNoContent)
}
