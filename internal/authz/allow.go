package authz

// SharePermission is the grant level of a workflow share (spec §3, §4.3).
type SharePermission string

const (
	ShareRead    SharePermission = "read"
	ShareWrite   SharePermission = "write"
	ShareExecute SharePermission = "execute"
)

// WorkflowContext carries the facts needed to resolve an *effective*
// workflow permission on top of the role grant (spec §4.2 step 3). It is
// only required when the target resource type is "workflow" and a
// specific workflow is addressed; list/create operations on the
// collection skip straight to the role-layer check.
type WorkflowContext struct {
	IsOwner bool
	// BestShare is the highest-ranked share permission across every group
	// the requesting user belongs to for this workflow, or "" if none.
	BestShare SharePermission
}

// effectivePermissions maps ownership/share state to the concrete
// permission set spec §4.2 grants:
//
//	Owner           -> {read, write, delete, execute}
//	share=read       -> {read, execute}
//	share=write      -> {read, write, execute}
//	share=execute    -> {read, execute}
func (wc WorkflowContext) effectivePermissions() map[Permission]bool {
	if wc.IsOwner {
		return set(PermRead, PermWrite, PermDelete, PermExecute)
	}
	switch wc.BestShare {
	case ShareRead, ShareExecute:
		return set(PermRead, PermExecute)
	case ShareWrite:
		return set(PermRead, PermWrite, PermExecute)
	default:
		return map[Permission]bool{}
	}
}

// Allow implements the permission-resolution algorithm of spec §4.2.
//
//  1. role == admin, or is_permanent_admin, always allows.
//  2. otherwise the claim's role-layer permission set for resourceType
//     must contain op.
//  3. if resourceType is workflow and a specific workflow is targeted
//     (wfCtx != nil), the role-allowed set is further intersected with
//     the effective workflow permission derived from ownership/share.
//
// claimPerms is the permission set embedded in the access token (role
// layer only — it does not already encode share grants, which are always
// resolved per-request against the live share table).
func Allow(role Role, isPermanentAdmin bool, claimPerms PermissionSet, op Permission, resourceType ResourceType, wfCtx *WorkflowContext) bool {
	if role == RoleAdmin || isPermanentAdmin {
		return true
	}

	roleAllowed := claimPerms[resourceType][op]
	if !roleAllowed {
		return false
	}

	if resourceType == ResourceWorkflow && wfCtx != nil {
		return wfCtx.effectivePermissions()[op]
	}

	return true
}
