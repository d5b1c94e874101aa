package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store implementation backed by maps under a
// single mutex. It is the reference implementation used by package tests
// across credential/authz/workflow/executor, and is also suitable for a
// single-process demo deployment that doesn't need Postgres.
type Memory struct {
	mu sync.RWMutex

	users         map[uuid.UUID]*User
	usersByName   map[string]uuid.UUID
	usersByEmail  map[string]uuid.UUID
	sessions      map[string]*Session
	refreshTokens map[string]*RefreshToken
	resetTokens   map[string]*PasswordResetToken
	groups        map[uuid.UUID]*Group
	groupMembers  map[uuid.UUID]map[uuid.UUID]bool // groupID -> userID set
	workflows     map[uuid.UUID]*Workflow
	shares        map[uuid.UUID]map[uuid.UUID]WorkflowShare // workflowID -> groupID -> share
	rolePerms     []RolePermissionRow
	schedules     map[uuid.UUID]*WorkflowSchedule
}

func NewMemory() *Memory {
	return &Memory{
		users:         map[uuid.UUID]*User{},
		usersByName:   map[string]uuid.UUID{},
		usersByEmail:  map[string]uuid.UUID{},
		sessions:      map[string]*Session{},
		refreshTokens: map[string]*RefreshToken{},
		resetTokens:   map[string]*PasswordResetToken{},
		groups:        map[uuid.UUID]*Group{},
		groupMembers:  map[uuid.UUID]map[uuid.UUID]bool{},
		workflows:     map[uuid.UUID]*Workflow{},
		shares:        map[uuid.UUID]map[uuid.UUID]WorkflowShare{},
		schedules:     map[uuid.UUID]*WorkflowSchedule{},
	}
}

func (m *Memory) Close() error { return nil }

// --- Users ---

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByUsername(u.Username); ok {
		return ErrDuplicate
	}
	if _, ok := m.usersByEmail[u.Email]; ok {
		return ErrDuplicate
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.ID] = &cp
	m.usersByName[u.Username] = u.ID
	m.usersByEmail[u.Email] = u.ID
	return nil
}

func (m *Memory) usersByUsername(username string) (uuid.UUID, bool) {
	id, ok := m.usersByName[username]
	return id, ok
}

func (m *Memory) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) UpdateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Username != u.Username {
		delete(m.usersByName, existing.Username)
		m.usersByName[u.Username] = u.ID
	}
	if existing.Email != u.Email {
		delete(m.usersByEmail, existing.Email)
		m.usersByEmail[u.Email] = u.ID
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) DeleteUser(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.usersByName, u.Username)
	delete(m.usersByEmail, u.Email)
	delete(m.users, id)
	return nil
}

func (m *Memory) ListUsers(ctx context.Context, includeInactive bool) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if !includeInactive && !u.IsActive {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetUserRole(ctx context.Context, userID uuid.UUID, role Role, isPermanentAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	u.IsPermanentAdmin = isPermanentAdmin
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Sessions ---

func (m *Memory) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now().UTC()
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *Memory) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) DeleteSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *Memory) DeleteSessionsForUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, tok)
		}
	}
	return nil
}

func (m *Memory) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for tok, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, tok)
			n++
		}
	}
	return n, nil
}

// --- Refresh tokens ---

func (m *Memory) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.refreshTokens[t.Token] = &cp
	return nil
}

func (m *Memory) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.refreshTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) RevokeRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refreshTokens[token]
	if !ok {
		return ErrNotFound
	}
	t.IsRevoked = true
	return nil
}

func (m *Memory) RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.refreshTokens {
		if t.UserID == userID {
			t.IsRevoked = true
		}
	}
	return nil
}

func (m *Memory) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for tok, t := range m.refreshTokens {
		if t.ExpiresAt.Before(now) {
			delete(m.refreshTokens, tok)
			n++
		}
	}
	return n, nil
}

// --- Password reset tokens ---

func (m *Memory) CreatePasswordResetToken(ctx context.Context, t *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.resetTokens[t.Token] = &cp
	return nil
}

func (m *Memory) GetPasswordResetToken(ctx context.Context, token string) (*PasswordResetToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.resetTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetPasswordResetTokenByEmail(ctx context.Context, email string) (*PasswordResetToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.resetTokens {
		if t.Email == email {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ConsumePasswordResetToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resetTokens[token]; !ok {
		return ErrNotFound
	}
	delete(m.resetTokens, token)
	return nil
}

// --- Groups ---

func (m *Memory) CreateGroup(ctx context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := *g
	m.groups[g.ID] = &cp
	m.groupMembers[g.ID] = map[uuid.UUID]bool{}
	return nil
}

func (m *Memory) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) ListGroups(ctx context.Context) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	delete(m.groupMembers, id)
	for wfID := range m.shares {
		delete(m.shares[wfID], id)
	}
	return nil
}

func (m *Memory) AddUserToGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groupMembers[groupID] == nil {
		m.groupMembers[groupID] = map[uuid.UUID]bool{}
	}
	m.groupMembers[groupID][userID] = true
	return nil
}

func (m *Memory) RemoveUserFromGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groupMembers[groupID], userID)
	return nil
}

func (m *Memory) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Group
	for gid, members := range m.groupMembers {
		if members[userID] {
			cp := *m.groups[gid]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Workflows ---

func (m *Memory) CreateWorkflow(ctx context.Context, w *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	cp := deepCopyWorkflow(w)
	m.workflows[w.ID] = cp
	return nil
}

func (m *Memory) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopyWorkflow(w), nil
}

func (m *Memory) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.workflows[w.ID]
	if !ok {
		return ErrNotFound
	}
	w.Steps = existing.Steps
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = time.Now().UTC()
	m.workflows[w.ID] = deepCopyWorkflow(w)
	return nil
}

func (m *Memory) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	delete(m.shares, id)
	return nil
}

func (m *Memory) ListWorkflowsOwnedBy(ctx context.Context, ownerID uuid.UUID) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Workflow
	for _, w := range m.workflows {
		if w.OwnerUserID == ownerID {
			out = append(out, deepCopyWorkflow(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListWorkflowsVisibleToGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(groupIDs))
	for _, g := range groupIDs {
		want[g] = true
	}
	seen := map[uuid.UUID]bool{}
	var out []*Workflow
	for wfID, byGroup := range m.shares {
		for gid := range byGroup {
			if want[gid] && !seen[wfID] {
				if w, ok := m.workflows[wfID]; ok {
					out = append(out, deepCopyWorkflow(w))
					seen[wfID] = true
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ReplaceSteps(ctx context.Context, workflowID uuid.UUID, steps []Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[workflowID]
	if !ok {
		return ErrNotFound
	}
	cp := make([]Step, len(steps))
	copy(cp, steps)
	w.Steps = cp
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateStepResult(ctx context.Context, workflowID uuid.UUID, stepID string, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[workflowID]
	if !ok {
		return ErrNotFound
	}
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			w.Steps[i] = step
			return nil
		}
	}
	return ErrNotFound
}

func deepCopyWorkflow(w *Workflow) *Workflow {
	cp := *w
	cp.Steps = make([]Step, len(w.Steps))
	copy(cp.Steps, w.Steps)
	return &cp
}

// --- Shares ---

func (m *Memory) UpsertShare(ctx context.Context, s WorkflowShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shares[s.WorkflowID] == nil {
		m.shares[s.WorkflowID] = map[uuid.UUID]WorkflowShare{}
	}
	m.shares[s.WorkflowID][s.GroupID] = s
	return nil
}

func (m *Memory) RemoveShare(ctx context.Context, workflowID, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shares[workflowID], groupID)
	return nil
}

func (m *Memory) ListSharesForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]WorkflowShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WorkflowShare
	for _, s := range m.shares[workflowID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID.String() < out[j].GroupID.String() })
	return out, nil
}

func (m *Memory) ListSharesForGroups(ctx context.Context, groupIDs []uuid.UUID) ([]WorkflowShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(groupIDs))
	for _, g := range groupIDs {
		want[g] = true
	}
	var out []WorkflowShare
	for _, byGroup := range m.shares {
		for gid, s := range byGroup {
			if want[gid] {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (m *Memory) DeleteSharesForWorkflow(ctx context.Context, workflowID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shares, workflowID)
	return nil
}

// --- Role permissions ---

func (m *Memory) LoadRolePermissions(ctx context.Context) ([]RolePermissionRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RolePermissionRow, len(m.rolePerms))
	copy(out, m.rolePerms)
	return out, nil
}

func (m *Memory) SaveRolePermissions(ctx context.Context, rows []RolePermissionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerms = make([]RolePermissionRow, len(rows))
	copy(m.rolePerms, rows)
	return nil
}

// --- Schedules ---

func (m *Memory) CreateSchedule(ctx context.Context, s *WorkflowSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *Memory) GetSchedule(ctx context.Context, id uuid.UUID) (*WorkflowSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSchedulesForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*WorkflowSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*WorkflowSchedule
	for _, s := range m.schedules {
		if s.WorkflowID == workflowID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

var _ Store = (*Memory)(nil)
