package service

import (
	"context"

	"github.com/agor-sh/agor/internal/store/models"
)

// Principal is the authenticated caller of a service verb.
type Principal struct {
	UserID string
	Role   string
	// SessionID is non-empty for executor tokens, which are scoped to
	// exactly one session.
	SessionID string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

// CanAccessSession checks ownership and, for executor tokens, scope.
func (p Principal) CanAccessSession(s *models.Session) error {
	if p.SessionID != "" && p.SessionID != s.ID {
		return NewError(KindForbidden, "token is scoped to a different session")
	}
	if !p.IsAdmin() && s.CreatedBy != p.UserID {
		return NewError(KindForbidden, "session belongs to another user")
	}
	return nil
}

type principalKey struct{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal set by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
