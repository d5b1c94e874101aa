package main

import (
	"fmt"
	"os"

	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/tokens"
)

// token_gen mints a standalone access token for local testing without
// standing up the full server. Not used in production.
func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-do-not-use-in-prod"
	}
	userID := os.Getenv("TOKEN_USER_ID")
	if userID == "" {
		userID = "00000000-0000-0000-0000-000000000002"
	}
	role := os.Getenv("TOKEN_ROLE")
	if role == "" {
		role = string(authz.RoleAdmin)
	}

	mgr := tokens.NewManager(secret)
	perms := authz.DefaultMatrix().PermissionSetFor(authz.Role(role))

	tokenString, err := mgr.GenerateAccessToken(userID, role, tokens.PermissionSet(perms.Grants()), role == string(authz.RoleAdmin))
	if err != nil {
		panic(err)
	}

	fmt.Printf("Generated access token (role=%s):\n", role)
	fmt.Println(tokenString)
	if err := os.WriteFile("token.txt", []byte(tokenString), 0644); err != nil {
		panic(err)
	}
}
