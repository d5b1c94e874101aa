// Package credential implements spec §4.1: password lifecycle, access/
// refresh token minting, and session bookkeeping. It is the leaf service
// every other FlowForge component depends on — the authorization engine
// trusts the role/permission claims this package embeds in access tokens,
// and the API gate trusts VerifyAccess as the single source of truth for
// "is this request authenticated".
package credential

import (
	"context"
	"errors"
	"net/mail"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/technosupport/flowforge/internal/auth"
	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/session"
	"github.com/technosupport/flowforge/internal/store"
	"github.com/technosupport/flowforge/internal/tokens"
)

var (
	ErrDuplicateUser    = errors.New("credential: username or email already registered")
	ErrWeakPassword     = errors.New("credential: password does not meet minimum strength")
	ErrInvalidCredential = errors.New("credential: invalid credentials")
	ErrInactiveUser     = errors.New("credential: user is inactive")
	ErrResetTokenExpired = errors.New("credential: reset token expired")
	ErrInvalidEmail     = errors.New("credential: malformed email address")
)

const (
	MinPasswordLength    = 8
	PasswordResetTTL     = time.Hour
)

// dummyHash is verified against on every failed-user-lookup path so that
// AuthenticateByUsername/AuthenticateByEmail always pay the same Argon2id
// cost regardless of whether the account exists (spec §4.1 timing note).
const dummyHash = "$argon2id$v=19$m=65536,t=2,p=2$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"

// Matrix resolves a role to the permission claims embedded in access
// tokens. Callers provide the live authz.Matrix (which may have been
// edited away from its defaults, admin row excepted).
type Matrix interface {
	PermissionSetFor(role authz.Role) authz.PermissionSet
}

type Service struct {
	store   store.Store
	tokens  *tokens.Manager
	lockout *session.Manager
	matrix  Matrix
}

func NewService(st store.Store, tm *tokens.Manager, lockout *session.Manager, matrix Matrix) *Service {
	return &Service{store: st, tokens: tm, lockout: lockout, matrix: matrix}
}

type RegisterResult struct {
	UserID      uuid.UUID
	IsFirstUser bool
}

// Register creates a new account. The very first user ever registered is
// promoted to permanent admin (spec §4.1, §7 acceptance scenario 1).
func (s *Service) Register(ctx context.Context, username, email, password string) (*RegisterResult, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	users, err := s.store.ListUsers(ctx, true)
	if err != nil {
		return nil, err
	}
	isFirst := len(users) == 0

	u := &store.User{
		Username:         username,
		Email:            email,
		PasswordHash:     hash,
		IsActive:         true,
		IsPermanentAdmin: isFirst,
	}
	if isFirst {
		u.Role = store.RoleAdmin
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}

	return &RegisterResult{UserID: u.ID, IsFirstUser: isFirst}, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

const inactiveMarker = "inactive_user"

// AuthenticateByUsername verifies credentials and returns the matching
// user. err is ErrInactiveUser when the account exists but is disabled,
// and ErrInvalidCredential for any other failure (unknown user or bad
// password) — the two are never distinguished beyond that, per spec.
// Callers must check lockout status themselves via Locked before calling
// this, and report the outcome via RecordAuthOutcome afterward.
func (s *Service) AuthenticateByUsername(ctx context.Context, username, password string) (*store.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	return s.authenticate(u, err, password)
}

func (s *Service) AuthenticateByEmail(ctx context.Context, email, password string) (*store.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	return s.authenticate(u, err, password)
}

func (s *Service) authenticate(u *store.User, lookupErr error, password string) (*store.User, error) {
	if lookupErr != nil {
		if errors.Is(lookupErr, store.ErrNotFound) {
			_, _ = auth.CheckPassword(password, dummyHash)
			return nil, ErrInvalidCredential
		}
		return nil, lookupErr
	}

	match, err := auth.CheckPassword(password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, ErrInvalidCredential
	}
	if !u.IsActive {
		return nil, ErrInactiveUser
	}
	return u, nil
}

// Locked reports whether identifier (a username or email) is currently
// locked out from repeated failed login attempts.
func (s *Service) Locked(ctx context.Context, identifier string) (bool, error) {
	if s.lockout == nil {
		return false, nil
	}
	return s.lockout.CheckLockout(ctx, identifier)
}

// RecordAuthOutcome feeds the lockout cache: a success clears the
// identifier's failure counter, a failure increments it.
func (s *Service) RecordAuthOutcome(ctx context.Context, identifier string, success bool) error {
	if s.lockout == nil {
		return nil
	}
	if success {
		return s.lockout.ClearFailedAttempts(ctx, identifier)
	}
	return s.lockout.RecordFailedAttempt(ctx, identifier)
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	User         *store.User
}

// Login mints a fresh access/refresh pair and a session row for user,
// which the caller must already have authenticated.
func (s *Service) Login(ctx context.Context, u *store.User) (*LoginResult, error) {
	role := u.EffectiveRole()
	perms := s.matrix.PermissionSetFor(role).Grants()
	tokenPerms := make(tokens.PermissionSet, len(perms))
	for k, v := range perms {
		tokenPerms[k] = v
	}

	access, err := s.tokens.GenerateAccessToken(u.ID.String(), string(role), tokenPerms, u.IsPermanentAdmin)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(u.ID.String())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.CreateSession(ctx, &store.Session{
		UserID:    u.ID,
		Token:     access,
		ExpiresAt: now.Add(s.tokens.AccessTTL()),
	}); err != nil {
		return nil, err
	}
	if err := s.store.CreateRefreshToken(ctx, &store.RefreshToken{
		UserID:    u.ID,
		Token:     refresh,
		ExpiresAt: now.Add(s.tokens.RefreshTTL()),
	}); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		User:         u,
	}, nil
}

// VerifyAccess implements spec §4.1's dual check: the JWT must verify AND
// a live session row must exist for the exact token string. A session
// miss on an otherwise well-formed token deletes the row (a no-op if it
// was already gone) so a replayed, expired token can never pass twice.
func (s *Service) VerifyAccess(ctx context.Context, token string) (*tokens.Claims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil || claims.TokenType != tokens.Access {
		return nil, ErrInvalidCredential
	}

	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	if sess.ExpiresAt.Before(time.Now().UTC()) {
		_ = s.store.DeleteSession(ctx, token)
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// RefreshAccess mints a new access token but reuses the same refresh
// token string (spec §4.1: "no rotation" — a deliberate break from the
// rotate-and-detect-reuse pattern more common in session middleware).
func (s *Service) RefreshAccess(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil || claims.TokenType != tokens.Refresh {
		return nil, ErrInvalidCredential
	}

	row, err := s.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	if row.IsRevoked || row.ExpiresAt.Before(time.Now().UTC()) {
		return nil, ErrInvalidCredential
	}

	u, err := s.store.GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInactiveUser
	}

	role := u.EffectiveRole()
	perms := s.matrix.PermissionSetFor(role).Grants()
	tokenPerms := make(tokens.PermissionSet, len(perms))
	for k, v := range perms {
		tokenPerms[k] = v
	}

	access, err := s.tokens.GenerateAccessToken(u.ID.String(), string(role), tokenPerms, u.IsPermanentAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(ctx, &store.Session{
		UserID:    u.ID,
		Token:     access,
		ExpiresAt: time.Now().UTC().Add(s.tokens.AccessTTL()),
	}); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		User:         u,
	}, nil
}

// Logout deletes the session row for token (spec §4.1).
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

// RevokeAllRefresh marks every refresh token for userID revoked without
// touching live sessions (spec §4.1, §7 acceptance scenario 3: existing
// access tokens remain valid until their own session expires).
func (s *Service) RevokeAllRefresh(ctx context.Context, userID uuid.UUID) error {
	return s.store.RevokeAllRefreshTokensForUser(ctx, userID)
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	match, err := auth.CheckPassword(oldPassword, u.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		return ErrInvalidCredential
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.store.UpdateUser(ctx, u)
}

// RequestPasswordReset issues a one-hour, single-use reset token for
// email. It does not reveal whether the email exists: callers should
// treat the absence of an error the same whether or not a row was
// written (the handler layer always returns a generic acknowledgement).
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if _, err := s.store.GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.store.CreatePasswordResetToken(ctx, &store.PasswordResetToken{
		Email:     email,
		Token:     uuid.New().String(),
		ExpiresAt: time.Now().UTC().Add(PasswordResetTTL),
	})
}

// HardResetPassword consumes a reset token and sets a new password.
func (s *Service) HardResetPassword(ctx context.Context, resetToken, newPassword string) error {
	t, err := s.store.GetPasswordResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredential
		}
		return err
	}
	if t.ExpiresAt.Before(time.Now().UTC()) {
		return ErrResetTokenExpired
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	u, err := s.store.GetUserByEmail(ctx, t.Email)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	return s.store.ConsumePasswordResetToken(ctx, resetToken)
}

func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.DeleteSessionsForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.store.RevokeAllRefreshTokensForUser(ctx, userID); err != nil {
		return err
	}
	return s.store.DeleteUser(ctx, userID)
}

func (s *Service) EditUsername(ctx context.Context, userID uuid.UUID, newUsername string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	u.Username = newUsername
	if err := s.store.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ErrDuplicateUser
		}
		return err
	}
	return nil
}
