// Package resettoken issues and verifies the signed, expiring tokens
// embedded in password reset links. Tokens are compact HS256 JWTs carrying
// the user id and an absolute expiry; nothing is stored server side.
package resettoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed reports a token that is not structurally valid.
	ErrMalformed = errors.New("malformed reset token")
	// ErrInvalidSignature reports a token signed with another secret or tampered with.
	ErrInvalidSignature = errors.New("invalid reset token signature")
	// ErrExpired reports a token whose validity window has passed.
	ErrExpired = errors.New("reset token expired")
)

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithoutClaimsValidation(),
	jwt.WithStrictDecoding(),
)

type claims struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
	jwt.RegisteredClaims
}

// Issue signs a token for userID that expires at now+validity.
func Issue(userID uuid.UUID, validity time.Duration, secret []byte, now time.Time) (string, error) {
	if userID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if validity <= 0 {
		return "", errors.New("validity must be positive")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:    userID.String(),
		ExpiresAt: now.Add(validity).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature of token and returns the user id it carries.
// now is the single clock reading the expiry is compared against; a token
// is expired once now reaches its expiry second.
func Verify(token string, secret []byte, now time.Time) (uuid.UUID, error) {
	var c claims
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return uuid.Nil, ErrMalformed
		}
		return uuid.Nil, ErrInvalidSignature
	}

	userID, err := uuid.Parse(c.UserID)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, ErrMalformed
	}
	if c.ExpiresAt == 0 {
		return uuid.Nil, ErrMalformed
	}
	if now.Unix() >= c.ExpiresAt {
		return uuid.Nil, ErrExpired
	}
	return userID, nil
}

// Codec binds a secret, a validity window and a clock.
type Codec struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewCodec returns a Codec. A nil clock defaults to time.Now.
func NewCodec(secret []byte, validity time.Duration, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: secret, validity: validity, now: now}
}

// Issue signs a token for userID as of issuedAt.
func (c *Codec) Issue(userID uuid.UUID, issuedAt time.Time) (string, error) {
	return Issue(userID, c.validity, c.secret, issuedAt)
}

// Verify reads the clock once and verifies token against it.
func (c *Codec) Verify(token string) (uuid.UUID, error) {
	return Verify(token, c.secret, c.now())
}

// Validity returns the configured validity window.
func (c *Codec) Validity() time.Duration {
	return c.validity
}
