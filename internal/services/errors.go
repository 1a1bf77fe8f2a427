package services

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserInactive       = errors.New("account is disabled")
	ErrInvalidResetToken  = errors.New("invalid or expired reset password link")
	ErrDelivery           = errors.New("mail delivery failed")
	ErrExportsDisabled    = errors.New("export archive is not configured")
)
