// Package servicestest provides in-memory repositories and a recording
// mailer for tests of the services and handlers packages.
package servicestest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/internal/mailer"
	"github.com/sampleapp/apiserver/internal/store"
	"github.com/sampleapp/apiserver/types"
)

// Users is an in-memory services.UserRepository.
type Users struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]types.User
	resetMu sync.Mutex

	// PasswordUpdates counts successful UpdatePassword calls.
	PasswordUpdates int
}

func NewUsers() *Users {
	return &Users{byID: make(map[uuid.UUID]types.User)}
}

// Add stores user as is, assigning an id when missing.
func (u *Users) Add(user types.User) types.User {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
		user.UpdatedAt = user.CreatedAt
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	u.byID[user.ID] = clone(user)
	return clone(user)
}

func (u *Users) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return clone(user), nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.findByEmail(email)
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return clone(user), nil
}

func (u *Users) Create(_ context.Context, user types.User) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, taken := u.findByEmail(user.Email); taken {
		return types.User{}, store.ErrConflict
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	if user.Roles == nil {
		user.Roles = []string{}
	}
	u.byID[user.ID] = clone(user)
	return clone(user), nil
}

func (u *Users) Update(_ context.Context, user types.User) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	current, ok := u.byID[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if other, taken := u.findByEmail(user.Email); taken && other.ID != user.ID {
		return types.User{}, store.ErrConflict
	}
	current.Email = user.Email
	current.Active = user.Active
	current.UpdatedAt = time.Now().UTC()
	u.byID[user.ID] = current
	return clone(current), nil
}

func (u *Users) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	u.byID[id] = user
	u.PasswordUpdates++
	return nil
}

func (u *Users) RecordLogin(_ context.Context, id uuid.UUID, at time.Time, ip string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	user.LastLoginAt, user.LastLoginIP = user.CurrentLoginAt, user.CurrentLoginIP
	user.CurrentLoginAt = &at
	if ip != "" {
		user.CurrentLoginIP = &ip
	} else {
		user.CurrentLoginIP = nil
	}
	user.LoginCount++
	u.byID[id] = user
	return nil
}

func (u *Users) List(_ context.Context, search string, limit, offset int) ([]types.User, int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var matched []types.User
	for _, user := range u.byID {
		if search == "" || strings.Contains(strings.ToLower(user.Email), strings.ToLower(search)) {
			matched = append(matched, clone(user))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Email < matched[j].Email
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if offset >= total {
		return []types.User{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (u *Users) Stats(_ context.Context) (types.UserStats, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var stats types.UserStats
	for _, user := range u.byID {
		stats.Total++
		if user.Active {
			stats.Active++
		}
		if user.IsAdmin() {
			stats.Admins++
		}
	}
	return stats, nil
}

// LockForReset serializes callers the way a row lock would. A changed
// SentResetPasswordAt is written back only when fn succeeds.
func (u *Users) LockForReset(ctx context.Context, email string, fn func(ctx context.Context, user *types.User) error) error {
	u.resetMu.Lock()
	defer u.resetMu.Unlock()

	user, err := u.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := fn(ctx, &user); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	stored := u.byID[user.ID]
	stored.SentResetPasswordAt = user.SentResetPasswordAt
	u.byID[user.ID] = stored
	return nil
}

func (u *Users) findByEmail(email string) (types.User, bool) {
	for _, user := range u.byID {
		if strings.EqualFold(user.Email, email) {
			return user, true
		}
	}
	return types.User{}, false
}

// Roles is an in-memory services.RoleRepository sharing state with Users.
type Roles struct {
	mu    sync.Mutex
	users *Users
	roles map[string]types.Role
}

// NewRoles returns a role repository seeded with the admin role.
func NewRoles(users *Users) *Roles {
	r := &Roles{users: users, roles: make(map[string]types.Role)}
	r.roles[types.RoleAdmin] = types.Role{ID: uuid.New(), Name: types.RoleAdmin, Description: "Access to the admin dashboard"}
	return r
}

func (r *Roles) List(_ context.Context) ([]types.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := make([]types.Role, 0, len(r.roles))
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *Roles) Ensure(_ context.Context, name, description string) (types.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[name]; ok {
		return role, nil
	}
	role := types.Role{ID: uuid.New(), Name: name, Description: description}
	r.roles[name] = role
	return role, nil
}

func (r *Roles) Grant(_ context.Context, userID uuid.UUID, roleName string) error {
	r.mu.Lock()
	_, ok := r.roles[roleName]
	r.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}

	r.users.mu.Lock()
	defer r.users.mu.Unlock()
	user, ok := r.users.byID[userID]
	if !ok {
		return store.ErrNotFound
	}
	if !user.HasRole(roleName) {
		user.Roles = append(append([]string{}, user.Roles...), roleName)
		sort.Strings(user.Roles)
		r.users.byID[userID] = user
	}
	return nil
}

func (r *Roles) Revoke(_ context.Context, userID uuid.UUID, roleName string) error {
	r.users.mu.Lock()
	defer r.users.mu.Unlock()
	user, ok := r.users.byID[userID]
	if !ok || !user.HasRole(roleName) {
		return store.ErrNotFound
	}
	kept := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		if role != roleName {
			kept = append(kept, role)
		}
	}
	user.Roles = kept
	r.users.byID[userID] = user
	return nil
}

// Mailer records sent messages. Set Err to make Send fail.
type Mailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	Err  error
}

func (m *Mailer) Send(ctx context.Context, msg mailer.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *Mailer) Sent() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// PlainHasher stores passwords with a visible prefix instead of bcrypt so
// tests stay fast.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (PlainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errMismatch
	}
	return nil
}

var errMismatch = errors.New("password mismatch")

func clone(user types.User) types.User {
	user.Roles = append([]string{}, user.Roles...)
	return user
}
