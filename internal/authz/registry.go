package authz

import (
	"context"
	"sync"

	"github.com/technosupport/flowforge/internal/store"
)

// rolePermissionStore is the narrow store surface Registry persists
// through; satisfied by store.Store.
type rolePermissionStore interface {
	LoadRolePermissions(ctx context.Context) ([]store.RolePermissionRow, error)
	SaveRolePermissions(ctx context.Context, rows []store.RolePermissionRow) error
}

// Registry is the live, concurrency-safe Matrix the rest of the service
// reads through. It loads from storage at startup, reconciling the admin
// row back to its full grant every time (spec §4.2: "reconciled to the
// invariant on every startup"), and persists after every mutation.
type Registry struct {
	mu     sync.RWMutex
	matrix Matrix
	store  rolePermissionStore
}

func NewRegistry(st rolePermissionStore) *Registry {
	return &Registry{matrix: DefaultMatrix(), store: st}
}

// Load reads the persisted matrix, falling back to defaults when storage
// has no rows yet (first boot), reconciles the admin row, and writes back
// if reconciliation changed anything.
func (r *Registry) Load(ctx context.Context) error {
	rows, err := r.store.LoadRolePermissions(ctx)
	if err != nil {
		return err
	}

	m := DefaultMatrix()
	if len(rows) > 0 {
		m = Matrix{}
		for _, row := range rows {
			role := Role(row.Role)
			rt := ResourceType(row.ResourceType)
			perm := Permission(row.Permission)
			if m[role] == nil {
				m[role] = PermissionSet{}
			}
			if m[role][rt] == nil {
				m[role][rt] = map[Permission]bool{}
			}
			m[role][rt][perm] = true
		}
	}

	changed := m.Reconcile()

	r.mu.Lock()
	r.matrix = m
	r.mu.Unlock()

	if changed {
		return r.persist(ctx)
	}
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	r.mu.RLock()
	rows := toRows(r.matrix)
	r.mu.RUnlock()
	return r.store.SaveRolePermissions(ctx, rows)
}

func toRows(m Matrix) []store.RolePermissionRow {
	var rows []store.RolePermissionRow
	for _, row := range m.Rows() {
		for p, ok := range row.Permissions {
			if !ok {
				continue
			}
			rows = append(rows, store.RolePermissionRow{
				Role:         store.Role(row.Role),
				ResourceType: string(row.ResourceType),
				Permission:   string(p),
			})
		}
	}
	return rows
}

// PermissionSetFor satisfies credential.Matrix.
func (r *Registry) PermissionSetFor(role Role) PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matrix.PermissionSetFor(role)
}

func (r *Registry) Rows() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matrix.Rows()
}

func (r *Registry) RowsForRole(role Role) []Row {
	all := r.Rows()
	out := make([]Row, 0, len(all))
	for _, row := range all {
		if row.Role == role {
			out = append(out, row)
		}
	}
	return out
}

func (r *Registry) Add(ctx context.Context, role Role, resourceType ResourceType, perm Permission) error {
	r.mu.Lock()
	err := r.matrix.Add(role, resourceType, perm)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.persist(ctx)
}

func (r *Registry) Remove(ctx context.Context, role Role, resourceType ResourceType, perm Permission) error {
	r.mu.Lock()
	err := r.matrix.Remove(role, resourceType, perm)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.persist(ctx)
}

func (r *Registry) Reset(ctx context.Context, role Role) error {
	r.mu.Lock()
	err := r.matrix.Reset(role)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.persist(ctx)
}
