package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/tokens"
)

// AccessVerifier is the subset of credential.Service the JWT middleware
// needs: signature/expiry verification plus the session-ledger check
// (spec §4.1 "dual verification").
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*tokens.Claims, error)
}

type JWTAuth struct {
	verifier AccessVerifier
}

func NewJWTAuth(v AccessVerifier) *JWTAuth {
	return &JWTAuth{verifier: v}
}

// Middleware verifies the bearer token and injects an AuthContext built
// from the token's embedded role/permission claims.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.verifier.VerifyAccess(r.Context(), tokenString)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ac := &AuthContext{
			UserID:           userID,
			Role:             authz.Role(claims.Role),
			IsPermanentAdmin: claims.IsAdmin,
			Permissions:      claimsToPermissionSet(claims.Permissions),
			TokenID:          claims.ID,
		}

		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func claimsToPermissionSet(ps tokens.PermissionSet) authz.PermissionSet {
	out := make(authz.PermissionSet, len(ps))
	for resourceType, perms := range ps {
		set := make(map[authz.Permission]bool, len(perms))
		for _, p := range perms {
			set[authz.Permission(p)] = true
		}
		out[authz.ResourceType(resourceType)] = set
	}
	return out
}
