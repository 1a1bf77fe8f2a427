package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/authz"
	"github.com/sampleapp/apiserver/internal/session"
	"github.com/sampleapp/apiserver/types"
	"go.uber.org/zap"
)

// PrincipalLoader resolves a session's user into a principal.
type PrincipalLoader interface {
	Principal(ctx context.Context, id uuid.UUID, sessionID string) (types.Principal, error)
}

// LoadPrincipal resolves the request's session once and stores the
// resulting principal in the context. Any failure leaves the request
// anonymous.
func LoadPrincipal(sessions *session.Manager, loader PrincipalLoader, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := sessions.TokenFromRequest(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			s, err := sessions.Parse(r.Context(), token)
			if err != nil {
				if !errors.Is(err, session.ErrInvalidSession) && !errors.Is(err, session.ErrRevoked) {
					logger.Warn("session lookup failed", zap.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			p, err := loader.Principal(r.Context(), s.UserID, s.ID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p, s)))
		})
	}
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()).IsAnonymous() {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability lets the request through when check authorizes its
// principal. Otherwise it redirects to loginPath, carrying the requested
// URI in the next parameter.
func RequireCapability(check authz.Check, loginPath string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			decision := check(p)
			if decision.Authorized {
				next.ServeHTTP(w, r)
				return
			}

			logger.Info("access denied",
				zap.String("path", r.URL.Path),
				zap.String("user_id", p.UserID.String()),
				zap.String("reason", decision.Reason),
			)
			http.Redirect(w, r, loginPath+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		})
	}
}
