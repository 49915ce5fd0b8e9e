package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/pavelanni/mathwhiz/internal/auth"
	"github.com/pavelanni/mathwhiz/internal/blob"
	appI18n "github.com/pavelanni/mathwhiz/internal/i18n"
	"github.com/pavelanni/mathwhiz/internal/jobs"
	"github.com/pavelanni/mathwhiz/internal/llm"
	"github.com/pavelanni/mathwhiz/internal/llmjson"
	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/retry"
	"github.com/pavelanni/mathwhiz/internal/store"
)

// maxJSONBody caps request bodies; drawings arrive base64-encoded inside JSON.
const maxJSONBody = 8 << 20

// Deps are the services the handlers use.
type Deps struct {
	Store  *store.Store
	LLM    *llm.Client
	Issuer *auth.Issuer
	Bucket blob.Bucket
	Runner *jobs.Runner
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	llm    *llm.Client
	issuer *auth.Issuer
	bucket blob.Bucket
	runner *jobs.Runner
	pdf    *jobs.PDFExtraction
	config model.ServerConfig
}

// New creates a new Handler.
func New(d Deps, cfg model.ServerConfig) (*Handler, error) {
	if d.Store == nil || d.LLM == nil || d.Issuer == nil || d.Bucket == nil || d.Runner == nil {
		return nil, errors.New("handler: store, llm, issuer, bucket and runner are required")
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 50
	}
	if cfg.DefaultQuestions <= 0 || cfg.DefaultQuestions > cfg.MaxQuestions {
		cfg.DefaultQuestions = min(10, cfg.MaxQuestions)
	}
	return &Handler{
		store:  d.Store,
		llm:    d.LLM,
		issuer: d.Issuer,
		bucket: d.Bucket,
		runner: d.Runner,
		pdf:    &jobs.PDFExtraction{Bucket: d.Bucket, Extractor: d.LLM, Store: d.Store},
		config: cfg,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(h.config.Lang))

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/register", h.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/auth/logout", h.handleLogout)
			r.Get("/me", h.handleMe)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Patch("/users/{userID}", h.handleSetUserActive)
			})

			r.Get("/classes", h.handleListClasses)
			r.With(requireRole(model.UserRoleTeacher, model.UserRoleAdmin)).Post("/classes", h.handleCreateClass)
			r.With(requireRole(model.UserRoleStudent)).Post("/join", h.handleJoinClass)

			r.Route("/classes/{classID}", func(r chi.Router) {
				r.Get("/", h.handleGetClass)
				r.Get("/questions", h.handleListQuestions)
				r.Get("/sets", h.handleListSets)
				r.Get("/attempts", h.handleListAttempts)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
					r.Patch("/", h.handleUpdateClass)
					r.Delete("/", h.handleDeleteClass)
					r.Get("/students", h.handleListStudents)
					r.Delete("/students/{studentID}", h.handleRemoveStudent)
					r.Post("/questions", h.handleCreateQuestions)
					r.Post("/questions/generate", h.handleGenerateQuestions)
					r.Post("/questions/options", h.handleFillOptions)
					r.Post("/questions/pdf", h.handleUploadPDF)
					r.Get("/export", h.handleExportClass)
				})
			})

			r.With(requireRole(model.UserRoleTeacher, model.UserRoleAdmin)).Delete("/questions/{questionID}", h.handleDeleteQuestion)

			r.Get("/jobs", h.handleGetJob)
			r.Post("/jobs/{jobID}/cancel", h.handleCancelJob)

			r.Post("/answers/grade", h.handleGrade)
			r.Post("/answers/grade-batch", h.handleGradeBatch)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError responds with a localized message for msgID.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorBody{Error: appI18n.T(r.Context(), msgID), Code: msgID})
}

func writeErrorData(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	writeJSON(w, status, errorBody{Error: appI18n.Td(r.Context(), msgID, data), Code: msgID})
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err, "path", r.URL.Path)
	writeError(w, r, http.StatusInternalServerError, "Internal")
}

// storeError maps store sentinels to responses; notFoundID names the
// message used for ErrNotFound.
func storeError(w http.ResponseWriter, r *http.Request, msg string, err error, notFoundID string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, notFoundID)
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, "Conflict")
	default:
		internalError(w, r, msg, err)
	}
}

// llmError maps failures of AI calls to responses.
func llmError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", retry.Summarize(err), "path", r.URL.Path)
	switch {
	case errors.Is(err, llmjson.ErrUnparseable):
		writeError(w, r, http.StatusBadGateway, "ParseFailed")
	case errors.Is(err, retry.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "AITimeout")
	case errors.Is(err, retry.ErrExhausted), llm.IsRetryable(err):
		writeError(w, r, http.StatusServiceUnavailable, "AIUnavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "Internal")
	}
}

// decodeJSON reads the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusBadRequest, "InvalidJSON")
		return false
	}
	return true
}

func missingField(w http.ResponseWriter, r *http.Request, field string) {
	writeErrorData(w, r, http.StatusBadRequest, "MissingField", map[string]any{"Field": field})
}

// idParam parses a numeric URL parameter, answering 400 when it is not one.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return 0, false
	}
	return id, true
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", n/1024)
}
