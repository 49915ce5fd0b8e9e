package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/store"
)

// ownedJob loads a job the current user started. Jobs of other users look
// missing.
func (h *Handler) ownedJob(w http.ResponseWriter, r *http.Request, id string) (*model.Job, bool) {
	job, err := h.store.GetJob(id)
	if err != nil {
		storeError(w, r, "failed to get job", err, "JobNotFound")
		return nil, false
	}
	user := model.UserFromContext(r.Context())
	if job.OwnerID != user.ID && user.Role != model.UserRoleAdmin {
		writeError(w, r, http.StatusNotFound, "JobNotFound")
		return nil, false
	}
	return job, true
}

// handleGetJob returns one job (?jobId=...) or, without a jobId, the
// user's recent jobs.
func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("jobId")
	if id == "" {
		user := model.UserFromContext(r.Context())
		list, err := h.store.ListJobsByOwner(user.ID, 20)
		if err != nil {
			internalError(w, r, "failed to list jobs", err)
			return
		}
		if list == nil {
			list = []model.Job{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	job, ok := h.ownedJob(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob flips a pending or processing job to cancelled. The
// runner notices on its next poll and stops the work.
func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r, chi.URLParam(r, "jobID"))
	if !ok {
		return
	}
	cancelled, err := h.store.CancelJob(job.ID)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, r, http.StatusConflict, "JobFinished")
		return
	}
	if err != nil {
		storeError(w, r, "failed to cancel job", err, "JobNotFound")
		return
	}
	slog.Info("job cancelled by user", "job_id", job.ID, "previous_status", job.Status)
	writeJSON(w, http.StatusOK, cancelled)
}
