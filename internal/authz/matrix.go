// Package authz implements the role/permission matrix and the
// permission-resolution algorithm of spec §4.2: three built-in roles,
// four permissions, four resource types, an immutable admin row, and a
// per-workflow share resolution layered on top of the role grant.
package authz

import "sort"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleViewer:
		return true
	}
	return false
}

type Permission string

const (
	PermRead    Permission = "read"
	PermWrite   Permission = "write"
	PermExecute Permission = "execute"
	PermDelete  Permission = "delete"
)

type ResourceType string

const (
	ResourceWorkflow ResourceType = "workflow"
	ResourceUser     ResourceType = "user"
	ResourceGroup    ResourceType = "group"
	ResourceSystem   ResourceType = "system"
)

var AllResourceTypes = []ResourceType{ResourceWorkflow, ResourceUser, ResourceGroup, ResourceSystem}
var AllPermissions = []Permission{PermRead, PermWrite, PermExecute, PermDelete}

// PermissionSet is resource_type -> set<permission>, the shape carried in
// access-token claims (spec §4.1, §9).
type PermissionSet map[ResourceType]map[Permission]bool

// Grants returns the claim shape suitable for embedding in a JWT: a
// resource_type -> sorted permission list map.
func (ps PermissionSet) Grants() map[string][]string {
	out := make(map[string][]string, len(ps))
	for rt, perms := range ps {
		list := make([]string, 0, len(perms))
		for p := range perms {
			list = append(list, string(p))
		}
		sort.Strings(list)
		out[string(rt)] = list
	}
	return out
}

// Row is one (role, resource_type) -> permission set entry.
type Row struct {
	Role         Role
	ResourceType ResourceType
	Permissions  map[Permission]bool
}

// Matrix is the full role -> resource_type -> permission set table.
type Matrix map[Role]PermissionSet

// DefaultMatrix returns the seed table from spec §4.2. It is rebuilt (not
// mutated) on every call so callers can't accidentally share state across
// tests.
func DefaultMatrix() Matrix {
	m := Matrix{
		RoleAdmin:   {},
		RoleManager: {},
		RoleViewer:  {},
	}
	for _, rt := range AllResourceTypes {
		m[RoleAdmin][rt] = set(PermRead, PermWrite, PermExecute, PermDelete)
	}

	m[RoleManager][ResourceWorkflow] = set(PermRead, PermWrite, PermExecute)
	m[RoleManager][ResourceUser] = set(PermRead)
	m[RoleManager][ResourceGroup] = set(PermRead, PermWrite)
	m[RoleManager][ResourceSystem] = set(PermRead)

	m[RoleViewer][ResourceWorkflow] = set(PermRead)
	m[RoleViewer][ResourceUser] = set(PermRead)
	m[RoleViewer][ResourceGroup] = set(PermRead)
	m[RoleViewer][ResourceSystem] = set(PermRead)

	return m
}

func set(perms ...Permission) map[Permission]bool {
	s := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		s[p] = true
	}
	return s
}

// Rows flattens the matrix into one row per (role, resource_type) pair,
// sorted for deterministic listing (GET /admin/role-permissions).
func (m Matrix) Rows() []Row {
	var rows []Row
	roles := make([]Role, 0, len(m))
	for r := range m {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	for _, r := range roles {
		rts := make([]ResourceType, 0, len(m[r]))
		for rt := range m[r] {
			rts = append(rts, rt)
		}
		sort.Slice(rts, func(i, j int) bool { return rts[i] < rts[j] })
		for _, rt := range rts {
			perms := make(map[Permission]bool, len(m[r][rt]))
			for p, ok := range m[r][rt] {
				perms[p] = ok
			}
			rows = append(rows, Row{Role: r, ResourceType: rt, Permissions: perms})
		}
	}
	return rows
}

// PermissionSetFor returns the access-token claim shape for a role.
func (m Matrix) PermissionSetFor(role Role) PermissionSet {
	ps := PermissionSet{}
	for rt, perms := range m[role] {
		cp := make(map[Permission]bool, len(perms))
		for p, ok := range perms {
			cp[p] = ok
		}
		ps[rt] = cp
	}
	return ps
}

// Add grants a permission. Admin rows are immutable (spec §4.2, §4.3):
// callers must reject this at the API layer before calling Add, but Add
// itself also refuses as defense in depth.
func (m Matrix) Add(role Role, resourceType ResourceType, perm Permission) error {
	if role == RoleAdmin {
		return ErrAdminImmutable
	}
	if m[role] == nil {
		m[role] = PermissionSet{}
	}
	if m[role][resourceType] == nil {
		m[role][resourceType] = map[Permission]bool{}
	}
	m[role][resourceType][perm] = true
	return nil
}

// Remove revokes a permission. Admin rows are immutable.
func (m Matrix) Remove(role Role, resourceType ResourceType, perm Permission) error {
	if role == RoleAdmin {
		return ErrAdminImmutable
	}
	if m[role] == nil || m[role][resourceType] == nil {
		return nil
	}
	delete(m[role][resourceType], perm)
	return nil
}

// Reset restores a role's row to the seed default. Admin rows are
// immutable and already match the default, so Reset on admin is a no-op
// error like Add/Remove.
func (m Matrix) Reset(role Role) error {
	if role == RoleAdmin {
		return ErrAdminImmutable
	}
	def := DefaultMatrix()
	m[role] = def[role]
	return nil
}

// Reconcile restores the admin row to the full grant on every resource
// type, regardless of what storage held (spec §4.2: "reconciled to the
// invariant on every startup"). It returns true if anything changed, so
// callers can log a correction.
func (m Matrix) Reconcile() bool {
	changed := false
	full := DefaultMatrix()[RoleAdmin]
	if m[RoleAdmin] == nil {
		m[RoleAdmin] = PermissionSet{}
	}
	for _, rt := range AllResourceTypes {
		want := full[rt]
		got := m[RoleAdmin][rt]
		if !equalSet(want, got) {
			m[RoleAdmin][rt] = want
			changed = true
		}
	}
	return changed
}

func equalSet(a, b map[Permission]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
