package auth

import (
	"context"

	"github.com/joescharf/tracker/internal/models"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller of a request. Session is nil when
// the caller used an API key.
type Principal struct {
	User    *models.User
	Session *models.Session
	APIKey  *models.APIKey
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// UserFrom returns the authenticated user stored in ctx, if any.
func UserFrom(ctx context.Context) *models.User {
	if p := PrincipalFrom(ctx); p != nil {
		return p.User
	}
	return nil
}
