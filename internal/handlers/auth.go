package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sampleapp/apiserver/internal/services"
	"github.com/sampleapp/apiserver/internal/session"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/sampleapp/apiserver/types"
	"go.uber.org/zap"
)

const defaultNext = "/"

// AuthHandler provides session based authentication endpoints.
type AuthHandler struct {
	userService *services.UserService
	sessions    *session.Manager
	logger      *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, sessions *session.Manager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		sessions:    sessions,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, userService *services.UserService, sessions *session.Manager, logger *zap.Logger) {
	handler := NewAuthHandler(userService, sessions, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(RequireAuth).Post("/logout", handler.Logout)
	r.With(RequireAuth).Get("/me", handler.Me)
}

// Register creates a new account and logs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	next, ok := nextFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid next url")
		return
	}

	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.logger.Error("register failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err = h.userService.Authenticate(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		h.logger.Error("login after register failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	h.startSession(w, http.StatusCreated, user, false, next)
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next, ok := nextFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid next url")
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, services.ErrUserInactive):
			writeError(w, http.StatusUnauthorized, "Account is disabled")
		default:
			h.logger.Error("login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
		}
		return
	}
	h.startSession(w, http.StatusOK, user, req.Remember, next)
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := sessionFromContext(r.Context()); ok {
		if err := h.sessions.Revoke(r.Context(), s); err != nil {
			h.logger.Error("revoke session failed", zap.String("session_id", s.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to log out")
			return
		}
	}
	h.sessions.ClearCookie(w)
	writeMessage(w, http.StatusOK, "You are logged out.", "info")
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	user, err := h.userService.GetByID(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, user types.User, remember bool, next string) {
	token, s, err := h.sessions.Issue(user.ID, remember)
	if err != nil {
		h.logger.Error("issue session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessions.SetCookie(w, token, s)
	writeJSON(w, status, AuthResponse{Token: token, User: user, Next: next})
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Confirm  string `json:"confirm" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
	Next  string     `json:"next"`
}

// nextFromRequest returns the post-login destination. ok is false when the
// caller supplied a target that is not safe to redirect to.
func nextFromRequest(r *http.Request) (string, bool) {
	next := strings.TrimSpace(r.URL.Query().Get("next"))
	if next == "" {
		return defaultNext, true
	}
	if !isSafeRedirect(next, r.Host) {
		return "", false
	}
	return next, true
}

// isSafeRedirect accepts local paths and absolute http(s) URLs on host.
func isSafeRedirect(target, host string) bool {
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") || strings.ContainsAny(target, "\r\n") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(u.Path, "/")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
