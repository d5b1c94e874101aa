package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/technosupport/flowforge/internal/credential"
	"github.com/technosupport/flowforge/internal/metrics"
	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/store"
)

// AuthHandler wires HTTP transport to credential.Service (spec §4.1,
// §8 routes under /auth/*).
type AuthHandler struct {
	Credentials *credential.Service
	Metrics     *metrics.Collector
	Log         *zap.Logger
}

func NewAuthHandler(credentials *credential.Service, m *metrics.Collector, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Credentials: credentials, Metrics: m, Log: log}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	User         userPublic `json:"user"`
}

type userPublic struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

func (h *AuthHandler) recordLogin(result string) {
	if h.Metrics != nil {
		h.Metrics.RecordLogin(result)
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Credentials.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrDuplicateUser):
			writeError(w, http.StatusBadRequest, "username or email already registered")
		case errors.Is(err, credential.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password does not meet minimum strength")
		case errors.Is(err, credential.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "malformed email address")
		default:
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "account created",
		"user_id":       result.UserID,
		"is_first_user": result.IsFirstUser,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	locked, err := h.Credentials.Locked(r.Context(), req.UsernameOrEmail)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if locked {
		h.recordLogin("locked")
		writeError(w, http.StatusUnauthorized, "account temporarily locked")
		return
	}

	user, err := h.Credentials.AuthenticateByUsername(r.Context(), req.UsernameOrEmail, req.Password)
	if errors.Is(err, credential.ErrInvalidCredential) {
		user, err = h.Credentials.AuthenticateByEmail(r.Context(), req.UsernameOrEmail, req.Password)
	}
	_ = h.Credentials.RecordAuthOutcome(r.Context(), req.UsernameOrEmail, err == nil)
	if err != nil {
		if errors.Is(err, credential.ErrInactiveUser) {
			h.recordLogin("inactive")
			writeError(w, http.StatusUnauthorized, "account is inactive")
			return
		}
		h.recordLogin("bad_credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	result, err := h.Credentials.Login(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	h.recordLogin("success")

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    result.ExpiresIn,
		User:         toUserPublic(result.User),
	})
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Credentials.RefreshAccess(r.Context(), req.RefreshToken)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, credential.ErrInactiveUser) {
			reason = "inactive_user"
		}
		if h.Metrics != nil {
			h.Metrics.RecordTokenRefresh(reason)
		}
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordTokenRefresh("success")
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    result.ExpiresIn,
		User:         toUserPublic(result.User),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerTokenFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := h.Credentials.Logout(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (h *AuthHandler) LogoutAllDevices(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.Credentials.RevokeAllRefresh(r.Context(), ac.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "all refresh tokens revoked"})
}

// VerifyToken implements GET /auth/verify-token: should_refresh = true once
// the remaining lifetime is at or below 30 seconds (spec §8).
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerTokenFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	claims, err := h.Credentials.VerifyAccess(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	remaining := time.Until(expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":                  true,
		"expires_at":             expiresAt,
		"time_remaining_seconds": int(remaining.Seconds()),
		"should_refresh":         remaining <= 30*time.Second,
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Credentials.ChangePassword(r.Context(), ac.UserID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, credential.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "old password is incorrect")
			return
		}
		if errors.Is(err, credential.ErrWeakPassword) {
			writeError(w, http.StatusBadRequest, "password does not meet minimum strength")
			return
		}
		writeError(w, http.StatusInternalServerError, "change password failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password changed"})
}

type editUsernameRequest struct {
	NewUsername string `json:"new_username"`
}

func (h *AuthHandler) EditUsername(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req editUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Credentials.EditUsername(r.Context(), ac.UserID, req.NewUsername); err != nil {
		if errors.Is(err, credential.ErrDuplicateUser) {
			writeError(w, http.StatusBadRequest, "username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "edit username failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "username updated"})
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.RequireAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.Credentials.DeleteAccount(r.Context(), ac.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete account failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "account deleted"})
}

type requestPasswordResetRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req requestPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Credentials.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.Log.Warn("password reset request failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "if the account exists, a reset token has been issued"})
}

type hardResetPasswordRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) HardResetPassword(w http.ResponseWriter, r *http.Request) {
	var req hardResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Credentials.HardResetPassword(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password reset"})
}

func toUserPublic(u *store.User) userPublic {
	return userPublic{ID: u.ID, Username: u.Username, Email: u.Email, Role: string(u.EffectiveRole())}
}

func bearerTokenFromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
