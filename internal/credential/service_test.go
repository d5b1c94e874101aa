package credential_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/credential"
	"github.com/technosupport/flowforge/internal/store"
	"github.com/technosupport/flowforge/internal/tokens"
)

type staticMatrix struct{ m authz.Matrix }

func (sm staticMatrix) PermissionSetFor(role authz.Role) authz.PermissionSet {
	return sm.m.PermissionSetFor(role)
}

func newTestService(t *testing.T) (*credential.Service, store.Store) {
	t.Helper()
	st := store.NewMemory()
	tm := tokens.NewManager("test-signing-key")
	svc := credential.NewService(st, tm, nil, staticMatrix{m: authz.DefaultMatrix()})
	return svc, st
}

func TestFirstRegisteredUserBecomesPermanentAdmin(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	res, err := svc.Register(ctx, "alice", "alice@example.com", "correcthorse1")
	require.NoError(t, err)
	assert.True(t, res.IsFirstUser)

	u, err := st.GetUserByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, u.IsPermanentAdmin)
	assert.Equal(t, store.RoleAdmin, u.Role)

	res2, err := svc.Register(ctx, "bob", "bob@example.com", "correcthorse2")
	require.NoError(t, err)
	assert.False(t, res2.IsFirstUser)
	u2, err := st.GetUserByID(ctx, res2.UserID)
	require.NoError(t, err)
	assert.False(t, u2.IsPermanentAdmin)
}

func TestRegisterRejectsWeakPasswordAndDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, "alice", "alice@example.com", "short1")
	assert.ErrorIs(t, err, credential.ErrWeakPassword)

	_, err = svc.Register(ctx, "alice", "alice@example.com", "correcthorse1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "someoneelse@example.com", "correcthorse1")
	assert.ErrorIs(t, err, credential.ErrDuplicateUser)
}

func TestAuthenticateUnknownUserIsGenericAndConstantTime(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.AuthenticateByUsername(ctx, "ghost", "whatever12")
	assert.ErrorIs(t, err, credential.ErrInvalidCredential)
}

func TestAuthenticateInactiveUserIsDistinguished(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	res, err := svc.Register(ctx, "carol", "carol@example.com", "correcthorse1")
	require.NoError(t, err)
	u, err := st.GetUserByID(ctx, res.UserID)
	require.NoError(t, err)
	u.IsActive = false
	require.NoError(t, st.UpdateUser(ctx, u))

	_, err = svc.AuthenticateByUsername(ctx, "carol", "correcthorse1")
	assert.ErrorIs(t, err, credential.ErrInactiveUser)
}

func TestLoginThenVerifyAccessRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	res, err := svc.Register(ctx, "dave", "dave@example.com", "correcthorse1")
	require.NoError(t, err)
	u, err := st.GetUserByID(ctx, res.UserID)
	require.NoError(t, err)

	login, err := svc.Login(ctx, u)
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)

	claims, err := svc.VerifyAccess(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), claims.UserID)
}

func TestLogoutInvalidatesVerifyAccess(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	res, err := svc.Register(ctx, "erin", "erin@example.com", "correcthorse1")
	require.NoError(t, err)
	u, _ := st.GetUserByID(ctx, res.UserID)
	login, err := svc.Login(ctx, u)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.AccessToken))
	_, err = svc.VerifyAccess(ctx, login.AccessToken)
	assert.ErrorIs(t, err, credential.ErrInvalidCredential)
}

func TestRefreshAccessReusesSameRefreshToken(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	res, err := svc.Register(ctx, "frank", "frank@example.com", "correcthorse1")
	require.NoError(t, err)
	u, _ := st.GetUserByID(ctx, res.UserID)
	login, err := svc.Login(ctx, u)
	require.NoError(t, err)

	refreshed, err := svc.RefreshAccess(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, login.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)
}

func TestRevokeAllRefreshDoesNotTouchLiveSessions(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	res, err := svc.Register(ctx, "grace", "grace@example.com", "correcthorse1")
	require.NoError(t, err)
	u, _ := st.GetUserByID(ctx, res.UserID)
	login, err := svc.Login(ctx, u)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAllRefresh(ctx, u.ID))

	_, err = svc.VerifyAccess(ctx, login.AccessToken)
	assert.NoError(t, err, "access token must remain valid until its own session expires")

	_, err = svc.RefreshAccess(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, credential.ErrInvalidCredential)
}

func TestHardResetPasswordConsumesToken(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	_, err := svc.Register(ctx, "heidi", "heidi@example.com", "correcthorse1")
	require.NoError(t, err)
	require.NoError(t, svc.RequestPasswordReset(ctx, "heidi@example.com"))

	resetTok, err := st.GetPasswordResetTokenByEmail(ctx, "heidi@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.HardResetPassword(ctx, resetTok.Token, "newcorrecthorse1"))

	_, err = svc.AuthenticateByUsername(ctx, "heidi", "correcthorse1")
	assert.ErrorIs(t, err, credential.ErrInvalidCredential, "old password must no longer work")

	u, err := svc.AuthenticateByUsername(ctx, "heidi", "newcorrecthorse1")
	require.NoError(t, err)
	assert.Equal(t, "heidi", u.Username)

	_, err = st.GetPasswordResetToken(ctx, resetTok.Token)
	assert.ErrorIs(t, err, store.ErrNotFound, "token must be single-use")
}

func TestRequestPasswordResetIsSilentForUnknownEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	assert.NoError(t, svc.RequestPasswordReset(ctx, "nobody@example.com"))
}

func TestExpiryParsingPolicy(t *testing.T) {
	epochSeconds := time.Now().Add(time.Hour).Unix()
	epochMillis := time.Now().Add(time.Hour).UnixMilli()

	got, err := credential.ParseExpiry(epochSeconds)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Unix(epochSeconds, 0), got, time.Second)

	got, err = credential.ParseExpiry(float64(epochMillis))
	require.NoError(t, err)
	assert.WithinDuration(t, time.UnixMilli(epochMillis), got, time.Second)

	iso := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	got, err = credential.ParseExpiry(iso)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got, 2*time.Second)

	sqlDatetime := time.Now().Add(time.Hour).UTC().Format("2006-01-02 15:04:05")
	got, err = credential.ParseExpiry(sqlDatetime)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got, 2*time.Second)

	_, err = credential.ParseExpiry("not-a-date")
	assert.Error(t, err)
}
