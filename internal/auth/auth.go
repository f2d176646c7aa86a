// Package auth issues and verifies bearer tokens and carries the authenticated principal
// through request contexts.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role is a user's role.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r may manage the catalog and circulation.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

type ctxKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
