package authz

// ChangeRole implements the elevation state machine of spec §4.2:
//
//	viewer <-> manager <-> temporary-admin     (freely reversible)
//	temporary-admin -> permanent-admin          (one-way; sets the flag)
//	permanent-admin -> anything                 (forbidden)
//
// currentRole/currentIsPermanentAdmin describe the target user before the
// change; newRole is the requested role. It returns the resulting role and
// is_permanent_admin flag, or an error if the transition is forbidden.
// Callers must separately enforce "a user can never change their own
// role" (ErrCannotChangeOwnRole) since that depends on actor identity,
// which this function doesn't see.
func ChangeRole(currentRole Role, currentIsPermanentAdmin bool, newRole Role) (Role, bool, error) {
	if !newRole.Valid() {
		return "", false, ErrInvalidRole
	}

	if currentIsPermanentAdmin {
		// A permanent admin's role can only ever read back as admin;
		// is_permanent_admin never clears once set (spec §3).
		if newRole != RoleAdmin {
			return currentRole, currentIsPermanentAdmin, ErrPermanentAdminDowngrade
		}
		return RoleAdmin, true, nil
	}

	// Temporary admin (role==admin, not permanent) may be downgraded
	// freely, same as viewer/manager transitions.
	return newRole, false, nil
}

// PromoteToPermanentAdmin is the one-way temporary-admin -> permanent-admin
// transition (spec §4.2, §GLOSSARY). It is only valid from role==admin;
// promoting a viewer/manager directly to permanent admin without first
// becoming (temporary) admin is not a transition this spec defines.
func PromoteToPermanentAdmin(currentRole Role) (Role, bool, error) {
	if currentRole != RoleAdmin {
		return currentRole, false, ErrInvalidRole
	}
	return RoleAdmin, true, nil
}
