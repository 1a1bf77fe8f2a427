package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/mailer"
	"github.com/sampleapp/apiserver/internal/resettoken"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/sampleapp/apiserver/types"
	"go.uber.org/zap"
)

// ResetOutcome describes what a reset request did.
type ResetOutcome int

const (
	// ResetSent means a reset email was dispatched.
	ResetSent ResetOutcome = iota
	// ResetCooldown means a reset email was sent too recently.
	ResetCooldown
	// ResetUnknownEmail means no active account matched. Callers must
	// answer exactly as for ResetSent.
	ResetUnknownEmail
)

func (o ResetOutcome) String() string {
	switch o {
	case ResetSent:
		return "sent"
	case ResetCooldown:
		return "cooldown"
	case ResetUnknownEmail:
		return "unknown_email"
	}
	return "unknown"
}

// MayIssue reports whether a new reset email may be sent to user at now.
// A non-positive cooldown never blocks.
func MayIssue(user types.User, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 || user.SentResetPasswordAt == nil {
		return true
	}
	return now.Sub(*user.SentResetPasswordAt) >= cooldown
}

// RecordIssuance marks a reset email as sent at now.
func RecordIssuance(user *types.User, now time.Time) {
	sent := now
	user.SentResetPasswordAt = &sent
}

type ResetConfig struct {
	Secret   []byte
	Cooldown time.Duration
	Validity time.Duration
	// BaseURL prefixes the reset link, e.g. https://example.com.
	BaseURL string
	Now     func() time.Time
}

// PasswordResetService runs the forgot-password and reset-password flows.
type PasswordResetService struct {
	users    UserRepository
	mailer   mailer.Mailer
	hasher   PasswordHasher
	codec    *resettoken.Codec
	cooldown time.Duration
	baseURL  string
	now      func() time.Time
	logger   *zap.Logger
}

func NewPasswordResetService(users UserRepository, m mailer.Mailer, hasher PasswordHasher, cfg ResetConfig, logger *zap.Logger) *PasswordResetService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordResetService{
		users:    users,
		mailer:   m,
		hasher:   hasher,
		codec:    resettoken.NewCodec(cfg.Secret, cfg.Validity, now),
		cooldown: cfg.Cooldown,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		now:      now,
		logger:   logger,
	}
}

// RequestReset emails a reset link to the active account matching email.
// The user row stays locked from the cooldown check until the issuance is
// recorded, and issuance is only recorded after the mailer accepted the
// message. A mailer failure returns ErrDelivery and records nothing.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (ResetOutcome, error) {
	now := s.now()
	outcome := ResetUnknownEmail

	err := s.users.LockForReset(ctx, strings.TrimSpace(email), func(ctx context.Context, user *types.User) error {
		if !user.Active {
			return nil
		}
		if !MayIssue(*user, s.cooldown, now) {
			outcome = ResetCooldown
			return nil
		}

		token, err := s.codec.Issue(user.ID, now)
		if err != nil {
			return err
		}
		msg, err := mailer.ResetPasswordMessage(user.Email, s.ResetLink(token), s.codec.Validity())
		if err != nil {
			return err
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			return fmt.Errorf("%w: %w", ErrDelivery, err)
		}

		RecordIssuance(user, now)
		outcome = ResetSent
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ResetUnknownEmail, nil
		}
		return outcome, err
	}

	if outcome == ResetCooldown {
		s.logger.Info("password reset throttled", zap.String("email", email))
	}
	return outcome, nil
}

// ResetLink builds the absolute link mailed to the user.
func (s *PasswordResetService) ResetLink(token string) string {
	return s.baseURL + "/reset-password?token=" + url.QueryEscape(token)
}

// ResetPassword sets a new password for the user named by token. Every
// token failure, whatever its cause, is reported as ErrInvalidResetToken.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) (types.User, error) {
	userID, err := s.codec.Verify(token)
	if err != nil {
		s.logger.Debug("reset token rejected", zap.Error(err))
		return types.User{}, ErrInvalidResetToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidResetToken
		}
		return types.User{}, err
	}
	if !user.Active {
		return types.User{}, ErrInvalidResetToken
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return types.User{}, err
	}
	user.PasswordHash = hashed
	return user, nil
}

// VerifyToken reports the user a reset token was issued for.
func (s *PasswordResetService) VerifyToken(token string) (uuid.UUID, error) {
	userID, err := s.codec.Verify(token)
	if err != nil {
		return uuid.Nil, ErrInvalidResetToken
	}
	return userID, nil
}
