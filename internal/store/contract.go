package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrDuplicate     = errors.New("store: duplicate key")
	ErrOptimisticLock = errors.New("store: optimistic lock failure")
)

// Store is the storage contract the rest of FlowForge depends on. It is
// the single collaborator named out of scope by spec §1 ("a persistent
// backend — an AsyncExecutor contract"): credential, authz, workflow and
// executor code only ever see this interface, never a concrete driver.
type Store interface {
	Users
	Sessions
	RefreshTokens
	PasswordResets
	Groups
	Workflows
	Shares
	RolePermissions
	Schedules

	Close() error
}

type Users interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, includeInactive bool) ([]*User, error)
	SetUserRole(ctx context.Context, userID uuid.UUID, role Role, isPermanentAdmin bool) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteSessionsForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
}

type PasswordResets interface {
	CreatePasswordResetToken(ctx context.Context, t *PasswordResetToken) error
	GetPasswordResetToken(ctx context.Context, token string) (*PasswordResetToken, error)
	GetPasswordResetTokenByEmail(ctx context.Context, email string) (*PasswordResetToken, error)
	ConsumePasswordResetToken(ctx context.Context, token string) error
}

type Groups interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	AddUserToGroup(ctx context.Context, userID, groupID uuid.UUID) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID uuid.UUID) error
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]*Group, error)
}

type Workflows interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error
	ListWorkflowsOwnedBy(ctx context.Context, ownerID uuid.UUID) ([]*Workflow, error)
	ListWorkflowsVisibleToGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*Workflow, error)

	// ReplaceSteps overwrites the full ordered step list for a workflow in
	// one atomic operation (spec §4.3: bulk reorder and delete-then-compact
	// both rewrite the whole set rather than patching individual rows).
	ReplaceSteps(ctx context.Context, workflowID uuid.UUID, steps []Step) error
	UpdateStepResult(ctx context.Context, workflowID uuid.UUID, stepID string, step Step) error
}

type Shares interface {
	UpsertShare(ctx context.Context, s WorkflowShare) error
	RemoveShare(ctx context.Context, workflowID, groupID uuid.UUID) error
	ListSharesForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]WorkflowShare, error)
	ListSharesForGroups(ctx context.Context, groupIDs []uuid.UUID) ([]WorkflowShare, error)
	DeleteSharesForWorkflow(ctx context.Context, workflowID uuid.UUID) error
}

type RolePermissions interface {
	LoadRolePermissions(ctx context.Context) ([]RolePermissionRow, error)
	SaveRolePermissions(ctx context.Context, rows []RolePermissionRow) error
}

type Schedules interface {
	CreateSchedule(ctx context.Context, s *WorkflowSchedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*WorkflowSchedule, error)
	ListSchedulesForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*WorkflowSchedule, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}
