// Package session issues the signed session tokens that identify a logged
// in user, and carries them in a cookie or a bearer header.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrRevoked        = errors.New("session revoked")
)

// Session is the decoded content of a session token.
type Session struct {
	ID        string
	UserID    uuid.UUID
	ExpiresAt time.Time
	Remember  bool
}

type claims struct {
	Remember bool `json:"remember,omitempty"`
	jwt.RegisteredClaims
}

type Options struct {
	Secret       []byte
	TTL          time.Duration
	RememberTTL  time.Duration
	CookieName   string
	CookieSecure bool
	Revoker      Revoker
	Now          func() time.Time
}

// Manager issues, parses and revokes sessions.
type Manager struct {
	secret      []byte
	ttl         time.Duration
	rememberTTL time.Duration
	cookieName  string
	secure      bool
	revoker     Revoker
	now         func() time.Time
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		secret:      opts.Secret,
		ttl:         opts.TTL,
		rememberTTL: opts.RememberTTL,
		cookieName:  opts.CookieName,
		secure:      opts.CookieSecure,
		revoker:     opts.Revoker,
		now:         opts.Now,
	}
	if m.ttl <= 0 {
		m.ttl = 24 * time.Hour
	}
	if m.rememberTTL <= 0 {
		m.rememberTTL = m.ttl
	}
	if m.cookieName == "" {
		m.cookieName = "session"
	}
	if m.revoker == nil {
		m.revoker = NewMemoryRevoker()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Issue starts a new session for userID. remember selects the long TTL.
func (m *Manager) Issue(userID uuid.UUID, remember bool) (string, Session, error) {
	now := m.now()
	ttl := m.ttl
	if remember {
		ttl = m.rememberTTL
	}
	s := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
		Remember:  remember,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Remember: remember,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, s, nil
}

// Parse verifies tokenString and checks that it was not revoked.
func (m *Manager) Parse(ctx context.Context, tokenString string) (Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Session{}, ErrInvalidSession
	}

	userID, err := uuid.Parse(strings.TrimSpace(c.Subject))
	if err != nil || c.ID == "" {
		return Session{}, ErrInvalidSession
	}

	revoked, err := m.revoker.IsRevoked(ctx, c.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, ErrRevoked
	}

	return Session{
		ID:        c.ID,
		UserID:    userID,
		ExpiresAt: c.ExpiresAt.Time,
		Remember:  c.Remember,
	}, nil
}

// Revoke invalidates s until it would have expired anyway.
func (m *Manager) Revoke(ctx context.Context, s Session) error {
	return m.revoker.Revoke(ctx, s.ID, s.ExpiresAt.Sub(m.now()))
}

// SetCookie writes the session cookie. Remembered sessions get a
// persistent cookie, others last for the browser session.
func (m *Manager) SetCookie(w http.ResponseWriter, token string, s Session) {
	cookie := &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.Remember {
		cookie.Expires = s.ExpiresAt
		cookie.MaxAge = int(s.ExpiresAt.Sub(m.now()).Seconds())
	}
	http.SetCookie(w, cookie)
}

func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session token from the cookie, falling back
// to an Authorization: Bearer header.
func (m *Manager) TokenFromRequest(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
