package authz

import "errors"

var (
	// ErrAdminImmutable is returned by Matrix.Add/Remove/Reset for the
	// admin role (spec §4.2, §4.3, §7: "admin role cannot be modified").
	ErrAdminImmutable = errors.New("admin role cannot be modified")

	// ErrCannotChangeOwnRole enforces "a user can never change their own
	// role" (spec §4.2 state machine).
	ErrCannotChangeOwnRole = errors.New("users cannot change their own role")

	// ErrPermanentAdminDowngrade enforces the one-way elevation rule: a
	// permanent admin may never be downgraded (spec §4.2).
	ErrPermanentAdminDowngrade = errors.New("a permanent admin cannot be downgraded")

	// ErrInvalidRole is returned for any role string outside the closed
	// set {admin, manager, viewer}.
	ErrInvalidRole = errors.New("invalid role")
)
