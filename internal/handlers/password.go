package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sampleapp/apiserver/internal/services"
	"go.uber.org/zap"
)

const (
	msgResetSent     = "Please check your mailbox for reset password email"
	msgResetCooldown = "We just sent a reset password email to you, please try again later"
	msgResetInvalid  = "Invalid or expired reset password link"
	msgResetDone     = "Your password has been reset, please log in."
)

// PasswordHandler serves the forgot-password and reset-password flows.
type PasswordHandler struct {
	reset  *services.PasswordResetService
	logger *zap.Logger
}

func NewPasswordHandler(reset *services.PasswordResetService, logger *zap.Logger) *PasswordHandler {
	return &PasswordHandler{reset: reset, logger: logger}
}

// PasswordRouter registers the password reset routes.
func PasswordRouter(r chi.Router, reset *services.PasswordResetService, logger *zap.Logger) {
	handler := NewPasswordHandler(reset, logger)

	r.Post("/forgot-password", handler.ForgotPassword)
	r.Get("/reset-password", handler.CheckResetToken)
	r.Post("/reset-password", handler.ResetPassword)
}

// ForgotPassword emails a reset link. Unknown addresses get the same answer
// as known ones.
func (h *PasswordHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.reset.RequestReset(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, services.ErrDelivery) {
			h.logger.Error("reset email delivery failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to send reset password email, please try again later")
			return
		}
		h.logger.Error("reset request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	if outcome == services.ResetCooldown {
		writeMessage(w, http.StatusOK, msgResetCooldown, "warning")
		return
	}
	writeMessage(w, http.StatusOK, msgResetSent, "success")
}

// CheckResetToken reports whether the link's token can still be used.
func (h *PasswordHandler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	if _, err := h.reset.VerifyToken(resetToken(r)); err != nil {
		writeError(w, http.StatusBadRequest, msgResetInvalid)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *PasswordHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := resetToken(r)
	if _, err := h.reset.VerifyToken(token); err != nil {
		writeError(w, http.StatusBadRequest, msgResetInvalid)
		return
	}

	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.reset.ResetPassword(r.Context(), token, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidResetToken) {
			writeError(w, http.StatusBadRequest, msgResetInvalid)
			return
		}
		h.logger.Error("reset password failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	h.logger.Info("password reset", zap.String("user_id", user.ID.String()))
	writeMessage(w, http.StatusOK, msgResetDone, "success")
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
	Confirm  string `json:"confirm" validate:"required,eqfield=Password"`
}

func resetToken(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
