package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sampleapp/apiserver/internal/db"
	"github.com/sampleapp/apiserver/types"
)

const userColumns = `
		u.id, u.email, u.password, u.active,
		u.last_login_at, u.current_login_at, u.last_login_ip, u.current_login_ip,
		u.login_count, u.confirmed_at, u.sent_reset_password_at,
		u.created_at, u.updated_at,
		ARRAY(
			SELECT r.name FROM roles r
			JOIN roles_users ru ON ru.role_id = r.id
			WHERE ru.user_id = u.id
			ORDER BY r.name
		)`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Active,
		&user.LastLoginAt,
		&user.CurrentLoginAt,
		&user.LastLoginIP,
		&user.CurrentLoginIP,
		&user.LoginCount,
		&user.ConfirmedAt,
		&user.SentResetPasswordAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		pq.Array(&user.Roles),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	query := `SELECT` + userColumns + `
		FROM users u
		WHERE u.id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail looks a user up by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT` + userColumns + `
		FROM users u
		WHERE lower(u.email) = lower($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (email, password, active, confirmed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Email,
		user.PasswordHash,
		user.Active,
		user.ConfirmedAt,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, translate(err)
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	return user, nil
}

// Update persists the editable profile fields: email and active.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE users
		SET email = $1,
			active = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, user.Email, user.Active, user.UpdatedAt, user.ID)
	if err != nil {
		return types.User{}, translate(err)
	}
	if err := expectAffected(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	const query = `
		UPDATE users
		SET password = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// RecordLogin rotates the login telemetry: the current login becomes the
// last one and the given time and address become current.
func (r *UserRepository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	const query = `
		UPDATE users
		SET last_login_at = current_login_at,
			last_login_ip = current_login_ip,
			current_login_at = $1,
			current_login_ip = $2,
			login_count = login_count + 1,
			updated_at = $1
		WHERE id = $3`
	var addr *string
	if ip != "" {
		addr = &ip
	}
	result, err := r.db.ExecContext(ctx, query, at, addr, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// List returns users whose email contains search, newest first,
// together with the total number of matches.
func (r *UserRepository) List(ctx context.Context, search string, limit, offset int) ([]types.User, int, error) {
	const countQuery = `
		SELECT COUNT(*)
		FROM users u
		WHERE ($1 = '' OR u.email ILIKE '%' || $1 || '%')`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, search).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT` + userColumns + `
		FROM users u
		WHERE ($1 = '' OR u.email ILIKE '%' || $1 || '%')
		ORDER BY u.created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []types.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) Stats(ctx context.Context) (types.UserStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE u.active),
			(SELECT COUNT(DISTINCT ru.user_id)
				FROM roles_users ru
				JOIN roles r ON r.id = ru.role_id
				WHERE r.name = $1)
		FROM users u`
	var stats types.UserStats
	if err := r.db.QueryRowContext(ctx, query, types.RoleAdmin).Scan(&stats.Total, &stats.Active, &stats.Admins); err != nil {
		return types.UserStats{}, err
	}
	return stats, nil
}

// LockForReset locks the user row matching email for the duration of fn.
// If fn changes user.SentResetPasswordAt the new value is written before
// commit. An error from fn rolls the transaction back. ErrNotFound is
// returned without calling fn when no user matches.
func (r *UserRepository) LockForReset(ctx context.Context, email string, fn func(ctx context.Context, user *types.User) error) error {
	return db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		query := `SELECT` + userColumns + `
			FROM users u
			WHERE lower(u.email) = lower($1)
			FOR UPDATE OF u`
		user, err := scanUser(tx.QueryRowContext(ctx, query, email))
		if err != nil {
			return err
		}

		before := user.SentResetPasswordAt
		if err := fn(ctx, &user); err != nil {
			return err
		}
		if sameInstant(before, user.SentResetPasswordAt) {
			return nil
		}

		const update = `
			UPDATE users
			SET sent_reset_password_at = $1,
				updated_at = $2
			WHERE id = $3`
		_, err = tx.ExecContext(ctx, update, user.SentResetPasswordAt, time.Now().UTC(), user.ID)
		return err
	})
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
