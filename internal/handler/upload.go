package handler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/mathwhiz/internal/blob"
	"github.com/pavelanni/mathwhiz/internal/llm"
	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/store"
)

// jobAccepted is the 202 body for a started background job.
type jobAccepted struct {
	JobID     string          `json:"jobId"`
	Status    model.JobStatus `json:"status"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// handleUploadPDF stores a worksheet and starts a pdf_extraction job for
// it. Uploading a file whose previous job is still running or finished
// returns that job instead of starting another.
func (h *Handler) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedClass(w, r)
	if !ok {
		return
	}
	user := model.UserFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.uploadTooLarge(w, r)
			return
		}
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "NoFile")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxUploadBytes+1))
	if err != nil {
		internalError(w, r, "failed to read upload", err)
		return
	}
	if int64(len(data)) > h.config.MaxUploadBytes {
		h.uploadTooLarge(w, r)
		return
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		writeError(w, r, http.StatusBadRequest, "NotAPDF")
		return
	}

	hints := llm.ExtractHints{Text: strings.TrimSpace(r.FormValue("hints")), Grade: c.Grade, HasGrade: true}
	if g := r.FormValue("grade"); g != "" {
		grade, err := strconv.Atoi(g)
		if err != nil || grade < 0 || grade > 12 {
			writeError(w, r, http.StatusBadRequest, "BadRequest")
			return
		}
		hints.Grade = grade
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, ".pdf")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	prev, err := h.store.FindUpload(user.ID, hash)
	if err != nil {
		internalError(w, r, "failed to check upload", err)
		return
	}
	if prev != nil && prev.JobID != "" {
		job, err := h.store.GetJob(prev.JobID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			internalError(w, r, "failed to get previous job", err)
			return
		}
		if job != nil && job.ClassID == c.ID && (job.Status == model.JobCompleted || !job.Status.IsTerminal()) {
			slog.Info("duplicate PDF upload", "user_id", user.ID, "sha256", hash, "job_id", job.ID)
			writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status, Duplicate: true})
			return
		}
	}

	key := blob.UploadKey(user.ID, hash)
	if prev == nil || prev.BlobKey != key {
		if err := h.bucket.Put(r.Context(), key, data, "application/pdf"); err != nil {
			internalError(w, r, "failed to store upload", err)
			return
		}
	}

	job, err := h.store.CreateJob(model.Job{
		ID:      uuid.NewString(),
		Kind:    model.JobPDFExtraction,
		OwnerID: user.ID,
		ClassID: c.ID,
		Input:   key,
	})
	if err != nil {
		internalError(w, r, "failed to create job", err)
		return
	}
	if err := h.store.RecordUpload(store.Upload{
		OwnerID: user.ID,
		SHA256:  hash,
		BlobKey: key,
		Size:    int64(len(data)),
		JobID:   job.ID,
	}); err != nil {
		slog.Error("failed to record upload", "job_id", job.ID, "error", err)
	}

	h.runner.Start(job, h.pdf.Work(title, hints))
	slog.Info("PDF extraction started", "job_id", job.ID, "class_id", c.ID, "filename", header.Filename, "size", len(data))
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

func (h *Handler) uploadTooLarge(w http.ResponseWriter, r *http.Request) {
	writeErrorData(w, r, http.StatusRequestEntityTooLarge, "UploadTooLarge",
		map[string]any{"Limit": humanBytes(h.config.MaxUploadBytes)})
}
