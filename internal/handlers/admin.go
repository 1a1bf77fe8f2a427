package handlers

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sampleapp/apiserver/internal/authz"
	"github.com/sampleapp/apiserver/internal/services"
	"github.com/sampleapp/apiserver/internal/session"
	"github.com/sampleapp/apiserver/internal/storage"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/sampleapp/apiserver/types"
	"go.uber.org/zap"
)

// AdminHandler serves the admin dashboard.
type AdminHandler struct {
	admin    *services.AdminService
	sessions *session.Manager
	logger   *zap.Logger
}

func NewAdminHandler(admin *services.AdminService, sessions *session.Manager, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		sessions: sessions,
		logger:   logger,
	}
}

// AdminRouter registers the dashboard routes. Every route sits behind the
// admin check; denied requests are sent to loginPath.
func AdminRouter(r chi.Router, admin *services.AdminService, sessions *session.Manager, loginPath string, logger *zap.Logger) {
	handler := NewAdminHandler(admin, sessions, logger)

	r.Group(func(r chi.Router) {
		r.Use(RequireCapability(authz.RequireAdmin, loginPath, logger))

		r.Get("/", handler.Index)
		r.Get("/roles", handler.Roles)
		r.Route("/user", func(r chi.Router) {
			r.Get("/", handler.ListUsers)
			r.Get("/export", handler.ExportUsers)
			r.Get("/exports/*", handler.DownloadExport)
			r.Get("/login-as/{userID}", handler.LoginAs)
			r.Get("/{userID}", handler.GetUser)
			r.Put("/{userID}", handler.UpdateUser)
			r.Post("/{userID}/roles/{role}", handler.GrantRole)
			r.Delete("/{userID}/roles/{role}", handler.RevokeRole)
		})
	})
}

// Index returns dashboard statistics.
func (h *AdminHandler) Index(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.logger.Error("load stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.admin.ListUsers(r.Context(), r.URL.Query().Get("search"), page, limit)
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ExportUsers streams the user list as CSV.
func (h *AdminHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	export, err := h.admin.ExportUsers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.logger.Error("export users failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export users")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
	if export.Key != "" {
		w.Header().Set("X-Export-Key", export.Key)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// DownloadExport returns a previously archived export.
func (h *AdminHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	key := "exports/" + chi.URLParam(r, "*")
	body, err := h.admin.OpenExport(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrExportsDisabled):
			writeError(w, http.StatusNotFound, "export archive is not configured")
		case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
			writeError(w, http.StatusNotFound, "export not found")
		default:
			h.logger.Error("open export failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load export")
		}
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream export failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		h.writeUserError(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser edits email and active. Passwords are not editable here.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.admin.UpdateUser(r.Context(), id, services.UserUpdate{Email: req.Email, Active: req.Active})
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.writeUserError(w, err, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.admin.GrantRole(r.Context(), id, chi.URLParam(r, "role"))
	if err != nil {
		h.writeUserError(w, err, "failed to grant role")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.admin.RevokeRole(r.Context(), id, chi.URLParam(r, "role"))
	if err != nil {
		h.writeUserError(w, err, "failed to revoke role")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) Roles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.Roles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// LoginAs replaces the admin's session with one for the target user.
func (h *AdminHandler) LoginAs(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		h.writeUserError(w, err, "failed to load user")
		return
	}
	if !user.Active {
		writeError(w, http.StatusBadRequest, "user is not active")
		return
	}

	token, s, err := h.sessions.Issue(user.ID, false)
	if err != nil {
		h.logger.Error("issue session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if current, ok := sessionFromContext(r.Context()); ok {
		if err := h.sessions.Revoke(r.Context(), current); err != nil {
			h.logger.Warn("revoke admin session failed", zap.Error(err))
		}
	}

	admin := PrincipalFromContext(r.Context())
	h.logger.Info("admin logged in as user",
		zap.String("admin_id", admin.UserID.String()),
		zap.String("user_id", user.ID.String()),
	)
	h.sessions.SetCookie(w, token, s)
	writeJSON(w, http.StatusOK, LoginAsResponse{
		MessageResponse: MessageResponse{Message: "You are logged in as " + user.Email + ".", Category: "success"},
		Token:           token,
		User:            user,
	})
}

func (h *AdminHandler) writeUserError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, message)
}

type UpdateUserRequest struct {
	Email  *string `json:"email" validate:"omitempty,email,max=255"`
	Active *bool   `json:"active"`
}

type LoginAsResponse struct {
	MessageResponse
	Token string     `json:"token"`
	User  types.User `json:"user"`
}
