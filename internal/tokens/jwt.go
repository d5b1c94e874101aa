// Package tokens mints and verifies the compact JWTs used for access and
// refresh credentials (spec §4.1, §6). Access tokens embed the claims an
// authorization check needs without a storage round trip; refresh tokens
// carry only enough to be looked up and re-verified against the stored row.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenType string

const (
	Access  TokenType = "access"
	Refresh TokenType = "refresh"
)

// PermissionSet is resource_type -> set<permission>, matching the design
// note on "dynamic attributes modeled as a tagged record with a fixed
// shape" (spec §9).
type PermissionSet map[string][]string

// Claims is the shape embedded in both access and refresh tokens. Refresh
// tokens only populate Subject, TokenType and the registered claims; Role/
// Permissions/IsAdmin are left zero so a refresh token can never be used
// in place of an access token even if TokenType checking were skipped by
// mistake somewhere downstream.
type Claims struct {
	UserID      string        `json:"sub"`
	TokenType   TokenType     `json:"token_type"`
	Role        string        `json:"role,omitempty"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	IsAdmin     bool          `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and validates HMAC-SHA256 signed tokens with configurable
// access/refresh lifetimes (spec §6: access TTL minutes, refresh TTL days,
// fractional allowed).
type Manager struct {
	signingKey   []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

// NewManager builds a Manager with the spec defaults (30 minute access
// tokens, 7 day refresh tokens). Use WithAccessTTL/WithRefreshTTL to
// override from configuration.
func NewManager(signingKey string) *Manager {
	return &Manager{
		signingKey: []byte(signingKey),
		accessTTL:  30 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
	}
}

func (m *Manager) WithAccessTTL(d time.Duration) *Manager {
	if d > 0 {
		m.accessTTL = d
	}
	return m
}

func (m *Manager) WithRefreshTTL(d time.Duration) *Manager {
	if d > 0 {
		m.refreshTTL = d
	}
	return m
}

func (m *Manager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// GenerateAccessToken mints a short-lived token carrying the resolved role
// and permission set so downstream authorization checks (internal/authz)
// don't need a storage read per request beyond the session-revocation
// check in §4.1.
func (m *Manager) GenerateAccessToken(userID, role string, perms PermissionSet, isAdmin bool) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:      userID,
		TokenType:   Access,
		Role:        role,
		Permissions: perms,
		IsAdmin:     isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
			Subject:   userID,
		},
	}
	return m.sign(claims)
}

// GenerateRefreshToken mints a long-lived token used only to mint new
// access tokens. It is never rotated (spec §4.1): the same token string
// is returned on every refresh until it expires or is revoked.
func (m *Manager) GenerateRefreshToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:    userID,
		TokenType: Refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
			Subject:   userID,
		},
	}
	return m.sign(claims)
}

func (m *Manager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"
	return token.SignedString(m.signingKey)
}

// ValidateToken verifies signature and expiry only. Session-ledger
// revocation (spec §4.1 "a session-level miss deletes the token row
// immediately") is a separate check the caller layers on top — this
// function has no storage dependency so it can also back the expiry
// notifier, which must start even for a soon-to-expire token (§4.5).
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
