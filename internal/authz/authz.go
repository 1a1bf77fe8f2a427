// Package authz decides whether a principal may reach the admin surface.
package authz

import "github.com/sampleapp/apiserver/types"

// Denial reasons reported by RequireAdmin.
const (
	ReasonAnonymous = "authentication required"
	ReasonNotAdmin  = "admin role required"
)

// Decision is the outcome of a Check.
type Decision struct {
	Authorized bool
	Reason     string
}

// IsAdmin reports whether p is authenticated and holds the admin role.
func IsAdmin(p types.Principal) bool {
	return !p.IsAnonymous() && p.HasRole(types.RoleAdmin)
}

// Check decides whether a principal may proceed. Routers compose a Check
// with a redirect to build their guard.
type Check func(types.Principal) Decision

var _ Check = RequireAdmin

func RequireAdmin(p types.Principal) Decision {
	switch {
	case p.IsAnonymous():
		return Decision{Reason: ReasonAnonymous}
	case !p.HasRole(types.RoleAdmin):
		return Decision{Reason: ReasonNotAdmin}
	}
	return Decision{Authorized: true}
}
