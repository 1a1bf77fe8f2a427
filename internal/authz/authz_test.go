package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sampleapp/apiserver/types"
	"github.com/stretchr/testify/assert"
)

func TestIsAdmin(t *testing.T) {
	tests := []struct {
		name      string
		principal types.Principal
		want      bool
	}{
		{name: "anonymous", principal: types.Anonymous(), want: false},
		{name: "anonymous with admin role", principal: types.Principal{Roles: []string{types.RoleAdmin}}, want: false},
		{name: "no roles", principal: types.Principal{UserID: uuid.New()}, want: false},
		{name: "other roles", principal: types.Principal{UserID: uuid.New(), Roles: []string{"editor", "Admin"}}, want: false},
		{name: "admin", principal: types.Principal{UserID: uuid.New(), Roles: []string{"editor", types.RoleAdmin}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAdmin(tt.principal))
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	assert.Equal(t, Decision{Reason: ReasonAnonymous}, RequireAdmin(types.Anonymous()))
	assert.Equal(t, Decision{Reason: ReasonNotAdmin}, RequireAdmin(types.Principal{UserID: uuid.New()}))
	assert.Equal(t, Decision{Authorized: true}, RequireAdmin(types.Principal{UserID: uuid.New(), Roles: []string{types.RoleAdmin}}))
}

func TestRequireAdminAgreesWithIsAdmin(t *testing.T) {
	for _, p := range []types.Principal{
		types.Anonymous(),
		{UserID: uuid.New()},
		{UserID: uuid.New(), Roles: []string{types.RoleAdmin}},
	} {
		assert.Equal(t, IsAdmin(p), RequireAdmin(p).Authorized)
	}
}
