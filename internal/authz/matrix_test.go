package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/flowforge/internal/authz"
)

func TestDefaultMatrixMatchesSpec(t *testing.T) {
	m := authz.DefaultMatrix()

	assert.True(t, m[authz.RoleAdmin][authz.ResourceWorkflow][authz.PermDelete])
	assert.True(t, m[authz.RoleAdmin][authz.ResourceUser][authz.PermWrite])
	assert.True(t, m[authz.RoleAdmin][authz.ResourceSystem][authz.PermDelete])

	assert.True(t, m[authz.RoleManager][authz.ResourceWorkflow][authz.PermExecute])
	assert.False(t, m[authz.RoleManager][authz.ResourceWorkflow][authz.PermDelete])
	assert.True(t, m[authz.RoleManager][authz.ResourceGroup][authz.PermWrite])
	assert.False(t, m[authz.RoleManager][authz.ResourceUser][authz.PermWrite])

	assert.True(t, m[authz.RoleViewer][authz.ResourceWorkflow][authz.PermRead])
	assert.False(t, m[authz.RoleViewer][authz.ResourceWorkflow][authz.PermWrite])
}

func TestAdminRowIsSixteenGrants(t *testing.T) {
	m := authz.DefaultMatrix()
	rows := m.Rows()
	count := 0
	for _, r := range rows {
		if r.Role == authz.RoleAdmin {
			count += len(r.Permissions)
		}
	}
	assert.Equal(t, 16, count, "admin should have 4 resource types x 4 permissions")
}

func TestAddRemoveNonAdminIsReversible(t *testing.T) {
	m := authz.DefaultMatrix()
	before := m.PermissionSetFor(authz.RoleViewer).Grants()

	assert.NoError(t, m.Add(authz.RoleViewer, authz.ResourceWorkflow, authz.PermWrite))
	assert.True(t, m[authz.RoleViewer][authz.ResourceWorkflow][authz.PermWrite])

	assert.NoError(t, m.Remove(authz.RoleViewer, authz.ResourceWorkflow, authz.PermWrite))
	after := m.PermissionSetFor(authz.RoleViewer).Grants()

	assert.Equal(t, before, after)
}

func TestAdminAddRemoveResetAreNoOps(t *testing.T) {
	m := authz.DefaultMatrix()

	assert.ErrorIs(t, m.Add(authz.RoleAdmin, authz.ResourceWorkflow, authz.PermRead), authz.ErrAdminImmutable)
	assert.ErrorIs(t, m.Remove(authz.RoleAdmin, authz.ResourceWorkflow, authz.PermRead), authz.ErrAdminImmutable)
	assert.ErrorIs(t, m.Reset(authz.RoleAdmin), authz.ErrAdminImmutable)

	rows := m.Rows()
	count := 0
	for _, r := range rows {
		if r.Role == authz.RoleAdmin {
			count += len(r.Permissions)
		}
	}
	assert.Equal(t, 16, count)
}

func TestReconcileRestoresTamperedAdminRow(t *testing.T) {
	m := authz.DefaultMatrix()
	// Simulate a corrupted row bypassing Add/Remove (e.g. loaded from a
	// storage backend that predates the invariant).
	delete(m[authz.RoleAdmin][authz.ResourceSystem], authz.PermDelete)

	changed := m.Reconcile()
	assert.True(t, changed)
	assert.True(t, m[authz.RoleAdmin][authz.ResourceSystem][authz.PermDelete])

	// A second reconcile is a no-op.
	assert.False(t, m.Reconcile())
}

func TestAllowAdminAlwaysAllowed(t *testing.T) {
	assert.True(t, authz.Allow(authz.RoleViewer, true, authz.PermissionSet{}, authz.PermDelete, authz.ResourceSystem, nil))
	assert.True(t, authz.Allow(authz.RoleAdmin, false, authz.PermissionSet{}, authz.PermDelete, authz.ResourceSystem, nil))
}

func TestAllowRoleLayerDenyWithoutGrant(t *testing.T) {
	m := authz.DefaultMatrix()
	perms := m.PermissionSetFor(authz.RoleViewer)
	assert.False(t, authz.Allow(authz.RoleViewer, false, perms, authz.PermWrite, authz.ResourceWorkflow, nil))
}

func TestAllowWorkflowShareReadGrantsExecuteNotWrite(t *testing.T) {
	m := authz.DefaultMatrix()
	perms := m.PermissionSetFor(authz.RoleManager) // manager has role-level write on workflow

	wfCtx := &authz.WorkflowContext{IsOwner: false, BestShare: authz.ShareRead}

	assert.True(t, authz.Allow(authz.RoleManager, false, perms, authz.PermRead, authz.ResourceWorkflow, wfCtx))
	assert.True(t, authz.Allow(authz.RoleManager, false, perms, authz.PermExecute, authz.ResourceWorkflow, wfCtx))
	assert.False(t, authz.Allow(authz.RoleManager, false, perms, authz.PermWrite, authz.ResourceWorkflow, wfCtx))
}

func TestAllowOwnerWorkflowAccessBoundedByRoleLayer(t *testing.T) {
	m := authz.DefaultMatrix()
	perms := m.PermissionSetFor(authz.RoleManager)
	wfCtx := &authz.WorkflowContext{IsOwner: true}

	for _, p := range []authz.Permission{authz.PermRead, authz.PermWrite, authz.PermExecute} {
		assert.True(t, authz.Allow(authz.RoleManager, false, perms, p, authz.ResourceWorkflow, wfCtx))
	}
	// Manager role layer doesn't grant delete even as owner.
	assert.False(t, authz.Allow(authz.RoleManager, false, perms, authz.PermDelete, authz.ResourceWorkflow, wfCtx))
}

func TestChangeRoleElevationStateMachine(t *testing.T) {
	role, perm, err := authz.ChangeRole(authz.RoleViewer, false, authz.RoleManager)
	assert.NoError(t, err)
	assert.Equal(t, authz.RoleManager, role)
	assert.False(t, perm)

	role, perm, err = authz.ChangeRole(authz.RoleManager, false, authz.RoleAdmin)
	assert.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, role)
	assert.False(t, perm, "temporary admin is not permanent until promoted")

	role, perm, err = authz.PromoteToPermanentAdmin(role)
	assert.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, role)
	assert.True(t, perm)

	_, _, err = authz.ChangeRole(authz.RoleAdmin, true, authz.RoleViewer)
	assert.ErrorIs(t, err, authz.ErrPermanentAdminDowngrade)
}

func TestTemporaryAdminCanBeDowngraded(t *testing.T) {
	role, perm, err := authz.ChangeRole(authz.RoleAdmin, false, authz.RoleViewer)
	assert.NoError(t, err)
	assert.Equal(t, authz.RoleViewer, role)
	assert.False(t, perm)
}
