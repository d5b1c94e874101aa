package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/store"
	"github.com/technosupport/flowforge/internal/tokens"
)

type fakeVerifier struct {
	claims map[string]*tokens.Claims
}

func (f fakeVerifier) VerifyAccess(ctx context.Context, token string) (*tokens.Claims, error) {
	c, ok := f.claims[token]
	if !ok {
		return nil, tokens.ErrInvalidToken
	}
	return c, nil
}

func TestJWTAuthMiddlewareSuccess(t *testing.T) {
	userID := uuid.New()
	v := fakeVerifier{claims: map[string]*tokens.Claims{
		"valid-access": {
			UserID:      userID.String(),
			Role:        string(authz.RoleManager),
			Permissions: tokens.PermissionSet{"workflow": {"read", "write"}},
		},
	}}
	mw := middleware.NewJWTAuth(v)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer valid-access")
	w := httptest.NewRecorder()

	mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := middleware.GetAuthContext(r.Context())
		require.True(t, ok)
		require.Equal(t, userID, ac.UserID)
		require.Equal(t, authz.RoleManager, ac.Role)
		require.True(t, ac.Permissions[authz.ResourceWorkflow][authz.PermWrite])
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuthMiddlewareMissingHeader(t *testing.T) {
	mw := middleware.NewJWTAuth(fakeVerifier{claims: map[string]*tokens.Claims{}})
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthMiddlewareInvalidToken(t *testing.T) {
	mw := middleware.NewJWTAuth(fakeVerifier{claims: map[string]*tokens.Claims{}})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()

	mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireResourcePermissionAdminAllowed(t *testing.T) {
	st := store.NewMemory()
	gate := middleware.NewPermissionGate(st)

	ctx := middleware.WithAuthContext(context.Background(), &middleware.AuthContext{
		UserID: uuid.New(),
		Role:   authz.RoleAdmin,
	})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	handler := gate.RequireResourcePermission(authz.PermDelete, authz.ResourceUser)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireResourcePermissionViewerDenied(t *testing.T) {
	st := store.NewMemory()
	gate := middleware.NewPermissionGate(st)

	ctx := middleware.WithAuthContext(context.Background(), &middleware.AuthContext{
		UserID: uuid.New(),
		Role:   authz.RoleViewer,
	})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	handler := gate.RequireResourcePermission(authz.PermDelete, authz.ResourceUser)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireWorkflowPermissionOwnerAllowed(t *testing.T) {
	ctxBg := context.Background()
	st := store.NewMemory()
	ownerID := uuid.New()
	wf := &store.Workflow{ID: uuid.New(), OwnerUserID: ownerID, Name: "wf"}
	require.NoError(t, st.CreateWorkflow(ctxBg, wf))

	gate := middleware.NewPermissionGate(st)
	r := chi.NewRouter()
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ac := &middleware.AuthContext{UserID: ownerID, Role: authz.RoleViewer}
			next.ServeHTTP(w, req.WithContext(middleware.WithAuthContext(req.Context(), ac)))
		})
	}).With(gate.RequireWorkflowPermission(authz.PermWrite, "id")).
		Get("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest("GET", "/workflows/"+wf.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireWorkflowPermissionNonOwnerDeniedWithoutShare(t *testing.T) {
	ctxBg := context.Background()
	st := store.NewMemory()
	ownerID := uuid.New()
	otherID := uuid.New()
	wf := &store.Workflow{ID: uuid.New(), OwnerUserID: ownerID, Name: "wf"}
	require.NoError(t, st.CreateWorkflow(ctxBg, wf))

	gate := middleware.NewPermissionGate(st)
	r := chi.NewRouter()
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ac := &middleware.AuthContext{UserID: otherID, Role: authz.RoleViewer}
			next.ServeHTTP(w, req.WithContext(middleware.WithAuthContext(req.Context(), ac)))
		})
	}).With(gate.RequireWorkflowPermission(authz.PermWrite, "id")).
		Get("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest("GET", "/workflows/"+wf.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireWorkflowPermissionGroupShareGrantsAccess(t *testing.T) {
	ctxBg := context.Background()
	st := store.NewMemory()
	ownerID := uuid.New()
	memberID := uuid.New()
	wf := &store.Workflow{ID: uuid.New(), OwnerUserID: ownerID, Name: "wf"}
	require.NoError(t, st.CreateWorkflow(ctxBg, wf))

	grp := &store.Group{ID: uuid.New(), Name: "ops"}
	require.NoError(t, st.CreateGroup(ctxBg, grp))
	require.NoError(t, st.AddUserToGroup(ctxBg, memberID, grp.ID))
	require.NoError(t, st.UpsertShare(ctxBg, store.WorkflowShare{WorkflowID: wf.ID, GroupID: grp.ID, Permission: store.ShareWrite}))

	gate := middleware.NewPermissionGate(st)
	r := chi.NewRouter()
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ac := &middleware.AuthContext{UserID: memberID, Role: authz.RoleViewer}
			next.ServeHTTP(w, req.WithContext(middleware.WithAuthContext(req.Context(), ac)))
		})
	}).With(gate.RequireWorkflowPermission(authz.PermWrite, "id")).
		Get("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest("GET", "/workflows/"+wf.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
