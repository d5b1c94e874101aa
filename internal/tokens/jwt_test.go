package tokens_test

import (
	"testing"
	"time"

	"github.com/technosupport/flowforge/internal/tokens"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	userID := "user-123"
	perms := tokens.PermissionSet{"workflow": {"read", "write"}}

	token, err := mgr.GenerateAccessToken(userID, "manager", perms, false)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("expected UserID %s, got %s", userID, claims.UserID)
	}
	if claims.TokenType != tokens.Access {
		t.Errorf("expected TokenType %s, got %s", tokens.Access, claims.TokenType)
	}
	if claims.Role != "manager" {
		t.Errorf("expected role manager, got %s", claims.Role)
	}
	if len(claims.Permissions["workflow"]) != 2 {
		t.Errorf("expected 2 workflow permissions, got %v", claims.Permissions["workflow"])
	}
}

func TestRefreshTokenCarriesNoPermissions(t *testing.T) {
	mgr := tokens.NewManager("secret")
	token, err := mgr.GenerateRefreshToken("user-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TokenType != tokens.Refresh {
		t.Errorf("expected refresh token type, got %s", claims.TokenType)
	}
	if claims.IsAdmin || claims.Role != "" || claims.Permissions != nil {
		t.Errorf("refresh token should carry no authorization claims, got %+v", claims)
	}
}

func TestInvalidSignatureRejected(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _ := mgr1.GenerateAccessToken("u1", "viewer", nil, false)
	if _, err := mgr2.ValidateToken(token); err == nil {
		t.Error("expected validation error for wrong signature")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := tokens.NewManager("secret").WithAccessTTL(time.Millisecond)
	token, err := mgr.GenerateAccessToken("u1", "viewer", nil, false)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Error("expected expired token to fail validation")
	}
}

func TestWithAccessTTLAppliedToExpiry(t *testing.T) {
	mgr := tokens.NewManager("secret").WithAccessTTL(2 * time.Hour)
	if mgr.AccessTTL() != 2*time.Hour {
		t.Errorf("expected 2h access ttl, got %v", mgr.AccessTTL())
	}
}
