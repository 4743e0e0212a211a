// Package http provides the HTTP handlers of the development API: pilot and
// email sign-in, registration and the /me lookup.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/koracockpit/internal/middleware"
	"github.com/atinyakov/koracockpit/internal/models"
	"github.com/atinyakov/koracockpit/internal/service"
)

// AuthService defines the identity operations required by the HTTP handlers.
type AuthService interface {
	PilotLogin(ctx context.Context, role models.Role, password string) (models.AuthResponse, error)
	Login(ctx context.Context, email, password string) (models.AuthResponse, error)
	Register(ctx context.Context, email, password, name string) (models.AuthResponse, error)
	Me(ctx context.Context, userID string) (models.Me, error)
}

// AuthHandler handles HTTP requests for sign-in, registration and /me.
type AuthHandler struct {
	// AuthService performs the underlying identity operations.
	AuthService AuthService
	// Logger receives unexpected service failures. Nil disables logging.
	Logger *zap.Logger
}

// PilotLogin handles POST /auth/pilot-login with a {role, password} body.
func (h *AuthHandler) PilotLogin(w http.ResponseWriter, r *http.Request) {
	var req models.PilotLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err := h.AuthService.PilotLogin(r.Context(), req.Role, req.Password)
	h.respond(w, resp, err)
}

// Login handles POST /auth/login with an {email, password} body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	h.respond(w, resp, err)
}

// Register handles POST /auth/register with an {email, password, name?} body.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err := h.AuthService.Register(r.Context(), req.Email, req.Password, req.Name)
	h.respond(w, resp, err)
}

// Me handles GET /me for the caller resolved by the identity middleware.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	me, err := h.AuthService.Me(r.Context(), userID)
	h.respond(w, me, err)
}

func (h *AuthHandler) respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		code, msg := statusFor(err)
		if code == http.StatusInternalServerError && h.Logger != nil {
			h.Logger.Error("auth handler failed", zap.Error(err))
		}
		http.Error(w, msg, code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrWeakPassword):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "user already exists"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
