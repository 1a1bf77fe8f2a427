package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/sampleapp/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
	List(ctx context.Context, search string, limit, offset int) ([]types.User, int, error)
	Stats(ctx context.Context) (types.UserStats, error)
	LockForReset(ctx context.Context, email string, fn func(ctx context.Context, user *types.User) error) error
}

// RoleRepository defines persistence operations for roles.
type RoleRepository interface {
	List(ctx context.Context) ([]types.Role, error)
	Ensure(ctx context.Context, name, description string) (types.Role, error)
	Grant(ctx context.Context, userID uuid.UUID, roleName string) error
	Revoke(ctx context.Context, userID uuid.UUID, roleName string) error
}

// UserService encapsulates account use-cases.
type UserService struct {
	users  UserRepository
	roles  RoleRepository
	hasher PasswordHasher
	now    func() time.Time
}

func NewUserService(users UserRepository, roles RoleRepository, hasher PasswordHasher) *UserService {
	return &UserService{
		users:  users,
		roles:  roles,
		hasher: hasher,
		now:    time.Now,
	}
}

// Register creates an active account. Email uniqueness ignores case.
func (s *UserService) Register(ctx context.Context, email, password string) (types.User, error) {
	email = strings.TrimSpace(email)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check email: %w", err)
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        email,
		PasswordHash: hashed,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}
	return user, nil
}

// Authenticate checks credentials and records login telemetry.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password, ip string) (types.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return types.User{}, ErrUserInactive
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now, ip); err != nil {
		return types.User{}, fmt.Errorf("record login: %w", err)
	}
	user.LastLoginAt, user.LastLoginIP = user.CurrentLoginAt, user.CurrentLoginIP
	user.CurrentLoginAt = &now
	if ip != "" {
		user.CurrentLoginIP = &ip
	} else {
		user.CurrentLoginIP = nil
	}
	user.LoginCount++
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.users.GetByEmail(ctx, strings.TrimSpace(email))
}

// Principal loads the request identity for an active user.
func (s *UserService) Principal(ctx context.Context, id uuid.UUID, sessionID string) (types.Principal, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.Anonymous(), err
	}
	if !user.Active {
		return types.Anonymous(), ErrUserInactive
	}
	return types.Principal{
		UserID:    user.ID,
		Email:     user.Email,
		Roles:     user.Roles,
		SessionID: sessionID,
	}, nil
}

// CreateUser registers an account from the command line, optionally
// granting the admin role.
func (s *UserService) CreateUser(ctx context.Context, email, password string, admin bool) (types.User, error) {
	user, err := s.Register(ctx, email, password)
	if err != nil {
		return types.User{}, err
	}
	if !admin {
		return user, nil
	}
	if _, err := s.roles.Ensure(ctx, types.RoleAdmin, "Access to the admin dashboard"); err != nil {
		return types.User{}, fmt.Errorf("ensure admin role: %w", err)
	}
	if err := s.roles.Grant(ctx, user.ID, types.RoleAdmin); err != nil {
		return types.User{}, fmt.Errorf("grant admin role: %w", err)
	}
	user.Roles = append(user.Roles, types.RoleAdmin)
	return user, nil
}
