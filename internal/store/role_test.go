package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestRoleRepositoryGrant(t *testing.T) {
	conn, mock := newSQLMockDB(t)
	repo := NewRoleRepository(conn)
	userID := uuid.New()
	roleID := uuid.New()

	mock.ExpectQuery(`SELECT id FROM roles WHERE name = \$1`).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(roleID.String()))
	mock.ExpectExec(`INSERT INTO roles_users`).
		WithArgs(userID, roleID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Grant(context.Background(), userID, "admin"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepositoryGrantUnknownRole(t *testing.T) {
	conn, mock := newSQLMockDB(t)
	repo := NewRoleRepository(conn)

	mock.ExpectQuery(`SELECT id FROM roles`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	require.ErrorIs(t, repo.Grant(context.Background(), uuid.New(), "wizard"), ErrNotFound)
}

func TestRoleRepositoryGrantUnknownUser(t *testing.T) {
	conn, mock := newSQLMockDB(t)
	repo := NewRoleRepository(conn)

	mock.ExpectQuery(`SELECT id FROM roles`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec(`INSERT INTO roles_users`).
		WillReturnError(&pq.Error{Code: "23503"})

	require.ErrorIs(t, repo.Grant(context.Background(), uuid.New(), "admin"), ErrNotFound)
}

func TestRoleRepositoryRevokeNotHeld(t *testing.T) {
	conn, mock := newSQLMockDB(t)
	repo := NewRoleRepository(conn)

	mock.ExpectExec(`DELETE FROM roles_users`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.Revoke(context.Background(), uuid.New(), "admin"), ErrNotFound)
}

func TestRoleRepositoryList(t *testing.T) {
	conn, mock := newSQLMockDB(t)
	repo := NewRoleRepository(conn)

	mock.ExpectQuery(`SELECT id, name, description`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).
			AddRow(uuid.New().String(), "admin", "Access to the admin dashboard"))

	roles, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, "admin", roles[0].Name)
}
