package middleware

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/technosupport/flowforge/internal/authz"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext holds the authenticated caller's identity and the
// role-layer permission set embedded in their access token (spec §4.1,
// §4.2). Per-workflow share permissions are resolved separately at the
// point of use, not carried here.
type AuthContext struct {
	UserID           uuid.UUID
	Role             authz.Role
	IsPermanentAdmin bool
	Permissions      authz.PermissionSet
	TokenID          string
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(authContextKey).(*AuthContext)
	return val, ok
}

func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

var ErrNoAuthContext = errors.New("middleware: no auth context in request")

// RequireAuthContext is a convenience accessor for handlers that must
// have an authenticated caller (the jwt_auth middleware guarantees this
// when it sits ahead of them in the chain).
func RequireAuthContext(ctx context.Context) (*AuthContext, error) {
	ac, ok := GetAuthContext(ctx)
	if !ok {
		return nil, ErrNoAuthContext
	}
	return ac, nil
}
