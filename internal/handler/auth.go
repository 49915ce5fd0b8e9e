package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mathwhiz/internal/auth"
	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/store"
)

const (
	minPasswordLen = 8
	maxUsernameLen = 64
)

type claimsCtxKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*auth.Claims)
	return c
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth is middleware that checks for a valid bearer token and loads
// the current user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := h.issuer.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				slog.Error("failed to verify token", "error", err)
			}
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		uid, err := claims.UserID()
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := h.store.GetUserByID(uid)
		if err != nil {
			internalError(w, r, "failed to load user", err)
			return
		}
		if user == nil || !user.Active {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = context.WithValue(ctx, claimsCtxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, "Forbidden")
		})
	}
}

type credentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Grade       int    `json:"grade"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeJSON(w, r, &in) {
		return
	}

	user, err := h.store.GetUserByUsername(strings.TrimSpace(in.Username))
	if err != nil {
		internalError(w, r, "failed to get user", err)
		return
	}
	if user == nil || !user.Active {
		writeError(w, r, http.StatusUnauthorized, "InvalidCredentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		writeError(w, r, http.StatusUnauthorized, "InvalidCredentials")
		return
	}

	h.respondWithToken(w, r, http.StatusOK, user)
}

// handleRegister creates a student account and signs it in. Teachers are
// created by an admin.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeJSON(w, r, &in) {
		return
	}
	user, ok := h.newUser(w, r, in, model.UserRoleStudent)
	if !ok {
		return
	}
	slog.Info("student registered", "user_id", user.ID, "username", user.Username)
	h.respondWithToken(w, r, http.StatusCreated, user)
}

// newUser validates in, hashes the password and stores the user.
func (h *Handler) newUser(w http.ResponseWriter, r *http.Request, in credentials, role model.UserRole) (*model.User, bool) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || utf8.RuneCountInString(in.Username) > maxUsernameLen {
		missingField(w, r, "username")
		return nil, false
	}
	if len(in.Password) < minPasswordLen {
		missingField(w, r, "password")
		return nil, false
	}
	if in.Grade < 0 || in.Grade > 12 {
		writeError(w, r, http.StatusBadRequest, "BadRequest")
		return nil, false
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		internalError(w, r, "failed to hash password", err)
		return nil, false
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = in.Username
	}
	u := model.User{
		Username:     in.Username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if role == model.UserRoleStudent {
		u.Grade = in.Grade
	}

	id, err := h.store.CreateUser(u)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, r, http.StatusConflict, "UsernameTaken")
		return nil, false
	}
	if err != nil {
		internalError(w, r, "failed to create user", err)
		return nil, false
	}
	u.ID = id
	return &u, true
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	token, claims, err := h.issuer.Issue(user)
	if err != nil {
		internalError(w, r, "failed to issue token", err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user})
}

// handleLogout revokes the token the request was made with.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil || claims.ExpiresAt == nil {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.store.RevokeToken(claims.ID, claims.ExpiresAt.Time); err != nil {
		internalError(w, r, "failed to revoke token", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}
