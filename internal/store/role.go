package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/types"
)

// RoleRepository handles persistence for roles and role assignments.
type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) List(ctx context.Context) ([]types.Role, error) {
	const query = `
		SELECT id, name, description
		FROM roles
		ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []types.Role{}
	for rows.Next() {
		var role types.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Ensure returns the named role, creating it when missing.
func (r *RoleRepository) Ensure(ctx context.Context, name, description string) (types.Role, error) {
	const query = `
		INSERT INTO roles (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, description`
	var role types.Role
	if err := r.db.QueryRowContext(ctx, query, name, description).Scan(&role.ID, &role.Name, &role.Description); err != nil {
		return types.Role{}, err
	}
	return role, nil
}

// Grant assigns the named role to a user. Granting a role the user already
// holds is a no-op.
func (r *RoleRepository) Grant(ctx context.Context, userID uuid.UUID, roleName string) error {
	roleID, err := r.roleID(ctx, roleName)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO roles_users (user_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID); err != nil {
		return translate(err)
	}
	return nil
}

func (r *RoleRepository) Revoke(ctx context.Context, userID uuid.UUID, roleName string) error {
	const query = `
		DELETE FROM roles_users ru
		USING roles r
		WHERE ru.role_id = r.id
			AND ru.user_id = $1
			AND r.name = $2`
	result, err := r.db.ExecContext(ctx, query, userID, roleName)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *RoleRepository) roleID(ctx context.Context, name string) (uuid.UUID, error) {
	const query = `SELECT id FROM roles WHERE name = $1`
	var id uuid.UUID
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}
