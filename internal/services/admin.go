package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/sampleapp/apiserver/types"
	"go.uber.org/zap"
)

const (
	exportPrefix   = "exports/"
	exportPageSize = 500
)

// Archiver stores export files. *storage.Storage implements it.
type Archiver interface {
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// UserPage is one page of the admin user list.
type UserPage struct {
	Items []types.User `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// UserUpdate carries the fields an admin may edit. Nil fields are left alone.
type UserUpdate struct {
	Email  *string
	Active *bool
}

// Export is a rendered CSV export. Key is set when the file was archived.
type Export struct {
	Data []byte
	Key  string
}

// AdminService backs the admin dashboard.
type AdminService struct {
	users   UserRepository
	roles   RoleRepository
	archive Archiver
	now     func() time.Time
	logger  *zap.Logger
}

// NewAdminService builds an AdminService. archive may be nil, in which case
// exports are only streamed back to the caller.
func NewAdminService(users UserRepository, roles RoleRepository, archive Archiver, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		users:   users,
		roles:   roles,
		archive: archive,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *AdminService) Stats(ctx context.Context) (types.UserStats, error) {
	return s.users.Stats(ctx)
}

// ListUsers pages through users matching search, newest first.
func (s *AdminService) ListUsers(ctx context.Context, search string, page, limit int) (UserPage, error) {
	items, total, err := s.users.List(ctx, strings.TrimSpace(search), limit, (page-1)*limit)
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *AdminService) GetUser(ctx context.Context, id uuid.UUID) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *AdminService) UpdateUser(ctx context.Context, id uuid.UUID, update UserUpdate) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if update.Email != nil {
		user.Email = strings.TrimSpace(*update.Email)
	}
	if update.Active != nil {
		user.Active = *update.Active
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}
	return updated, nil
}

func (s *AdminService) Roles(ctx context.Context) ([]types.Role, error) {
	return s.roles.List(ctx)
}

func (s *AdminService) GrantRole(ctx context.Context, id uuid.UUID, role string) (types.User, error) {
	if err := s.roles.Grant(ctx, id, role); err != nil {
		return types.User{}, err
	}
	s.logger.Info("role granted", zap.String("user_id", id.String()), zap.String("role", role))
	return s.users.GetByID(ctx, id)
}

func (s *AdminService) RevokeRole(ctx context.Context, id uuid.UUID, role string) (types.User, error) {
	if err := s.roles.Revoke(ctx, id, role); err != nil {
		return types.User{}, err
	}
	s.logger.Info("role revoked", zap.String("user_id", id.String()), zap.String("role", role))
	return s.users.GetByID(ctx, id)
}

// ExportUsers renders every user matching search as CSV. Password hashes
// are never exported. When an archive is configured the file is also stored
// under exports/.
func (s *AdminService) ExportUsers(ctx context.Context, search string) (Export, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "email", "active", "roles", "created_at", "login_count", "last_login_at"}); err != nil {
		return Export{}, err
	}

	for offset := 0; ; offset += exportPageSize {
		users, total, err := s.users.List(ctx, strings.TrimSpace(search), exportPageSize, offset)
		if err != nil {
			return Export{}, err
		}
		for _, u := range users {
			lastLogin := ""
			if u.LastLoginAt != nil {
				lastLogin = u.LastLoginAt.UTC().Format(time.RFC3339)
			}
			if err := w.Write([]string{
				u.ID.String(),
				u.Email,
				strconv.FormatBool(u.Active),
				strings.Join(u.Roles, ";"),
				u.CreatedAt.UTC().Format(time.RFC3339),
				strconv.Itoa(u.LoginCount),
				lastLogin,
			}); err != nil {
				return Export{}, err
			}
		}
		if len(users) == 0 || offset+len(users) >= total {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Export{}, err
	}

	export := Export{Data: buf.Bytes()}
	if s.archive == nil {
		return export, nil
	}
	key := fmt.Sprintf("%susers-%s.csv", exportPrefix, s.now().UTC().Format("20060102T150405Z"))
	if err := s.archive.PutBytes(ctx, key, export.Data, "text/csv"); err != nil {
		return Export{}, fmt.Errorf("archive export: %w", err)
	}
	s.logger.Info("user export archived", zap.String("key", key), zap.Int("bytes", len(export.Data)))
	export.Key = key
	return export, nil
}

// OpenExport reads back an archived export.
func (s *AdminService) OpenExport(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.archive == nil {
		return nil, ErrExportsDisabled
	}
	if !strings.HasPrefix(key, exportPrefix) || strings.Contains(key, "..") {
		return nil, store.ErrNotFound
	}
	return s.archive.Get(ctx, key)
}
