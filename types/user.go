package types

import (
	"time"

	"github.com/google/uuid"
)

// RoleAdmin is the role name that grants access to the admin dashboard.
const RoleAdmin = "admin"

// User represents an account in the system.
// It contains identity, roles, login telemetry and reset bookkeeping.
type User struct {
	// ID is the unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Email is the login identifier. Uniqueness is case-insensitive.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password"`

	// Active users may log in and request password resets.
	Active bool `json:"active" db:"active"`

	LastLoginAt    *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CurrentLoginAt *time.Time `json:"current_login_at,omitempty" db:"current_login_at"`
	LastLoginIP    *string    `json:"last_login_ip,omitempty" db:"last_login_ip"`
	CurrentLoginIP *string    `json:"current_login_ip,omitempty" db:"current_login_ip"`
	LoginCount     int        `json:"login_count" db:"login_count"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`

	// SentResetPasswordAt is the time of the last reset email dispatched
	// to this user, nil if none was ever sent.
	SentResetPasswordAt *time.Time `json:"-" db:"sent_reset_password_at"`

	// Roles holds the names of the roles assigned to the user.
	Roles []string `json:"roles" db:"-"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasRole reports whether the user holds the named role.
func (u User) HasRole(name string) bool {
	return hasRole(u.Roles, name)
}

func (u User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// Role is a named permission group.
type Role struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
}

// Principal is the identity attached to a request.
// The zero value is the anonymous principal.
type Principal struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	SessionID string    `json:"-"`
}

// Anonymous returns the principal of an unauthenticated request.
func Anonymous() Principal {
	return Principal{}
}

func (p Principal) IsAnonymous() bool {
	return p.UserID == uuid.Nil
}

func (p Principal) HasRole(name string) bool {
	return hasRole(p.Roles, name)
}

// UserStats summarizes the user table for the admin dashboard.
type UserStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Admins int `json:"admins"`
}

func hasRole(roles []string, name string) bool {
	for _, role := range roles {
		if role == name {
			return true
		}
	}
	return false
}
