package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/session"
	"github.com/sampleapp/apiserver/types"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
	maxBodyBytes = 1 << 20
)

type contextKey string

const (
	contextPrincipalKey contextKey = "principal"
	contextSessionKey   contextKey = "session"
)

// PrincipalFromContext returns the principal LoadPrincipal attached to ctx,
// or the anonymous principal.
func PrincipalFromContext(ctx context.Context) types.Principal {
	if p, ok := ctx.Value(contextPrincipalKey).(types.Principal); ok {
		return p
	}
	return types.Anonymous()
}

func sessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(contextSessionKey).(session.Session)
	return s, ok
}

func withPrincipal(ctx context.Context, p types.Principal, s session.Session) context.Context {
	ctx = context.WithValue(ctx, contextPrincipalKey, p)
	return context.WithValue(ctx, contextSessionKey, s)
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse carries a user-facing notice and its category
// ("success", "info", "warning").
type MessageResponse struct {
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeMessage(w http.ResponseWriter, status int, message, category string) {
	writeJSON(w, status, MessageResponse{Message: message, Category: category})
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request")
	}
	return validateRequest(dst)
}

func parsePagination(r *http.Request) (page, limit int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, nil
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.New("invalid user id")
	}
	return id, nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
