// Package store defines the storage contract FlowForge's core depends on
// (spec §1: "persistent key-value/SQL backend — an AsyncExecutor contract"
// is named out of scope as an external collaborator) and ships two
// implementations of it: an in-memory reference store used by tests and
// small deployments, and a Postgres-backed store for production, grounded
// on the teacher's UserModel/TokenModel query patterns.
package store

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

// User is the account entity of spec §3. IsPermanentAdmin is a monotonic
// escalation flag: once true it cannot be cleared by role changes.
type User struct {
	ID               uuid.UUID
	Username         string
	Email            string
	PasswordHash     string
	IsActive         bool
	IsPermanentAdmin bool
	Role             Role // zero value "" means "no role record" -> defaults to viewer
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EffectiveRole returns the user's role, defaulting to viewer when no role
// record exists (spec §3 invariant: "absence means viewer").
func (u User) EffectiveRole() Role {
	if u.Role == "" {
		return RoleViewer
	}
	return u.Role
}

// Session is the server-side revocation ledger row for an access token
// (spec §3, §4.1 "Why separate session store?").
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshToken is the long-lived, never-rotated credential used to mint
// new access tokens (spec §3, §4.1).
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Token      string
	ExpiresAt  time.Time
	IsRevoked  bool
	CreatedAt  time.Time
}

// PasswordResetToken is single-use and deleted on consumption (spec §3).
type PasswordResetToken struct {
	Email     string
	Token     string
	ExpiresAt time.Time
}

type Group struct {
	ID          uuid.UUID
	Name        string
	Description string
}

type GroupAssignment struct {
	UserID  uuid.UUID
	GroupID uuid.UUID
}

// ScriptType names the interpreter a step's script runs under (spec §3,
// supplemented in SPEC_FULL.md with "lua" for the embedded sandbox).
type ScriptType string

const (
	ScriptPython ScriptType = "python"
	ScriptNodeJS ScriptType = "nodejs"
	ScriptShell  ScriptType = "sh"
	ScriptLua    ScriptType = "lua"
)

// ExecutionStatus is a step's last-run outcome (spec §4.4).
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
	StatusTimeout   ExecutionStatus = "timeout"
)

// Step is embedded inside a Workflow (spec §3). Order is 1-based and
// unique within the owning workflow. A bare append assigns max+1, and
// reorder and delete renumber the steps to a contiguous 1..N; an append
// with an explicit order or a single-step order change can leave a gap
// (spec §4.3).
type Step struct {
	ID               string
	Name             string
	Order            int
	ScriptType       ScriptType
	ScriptFilename   string
	RunCommand       string
	Dependencies     []string
	Parameters       map[string]string
	IsActive         bool
	DirectoryName    string
	LastStatus       ExecutionStatus
	LastReturnCode   int
	LastOutput       string
	LastError        string
	LastRunStartedAt *time.Time
	LastRunEndedAt   *time.Time
	LastExecutionSec float64
}

type Workflow struct {
	ID          uuid.UUID
	OwnerUserID uuid.UUID
	Name        string
	Description string
	Steps       []Step
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SharePermission string

const (
	ShareRead    SharePermission = "read"
	ShareWrite   SharePermission = "write"
	ShareExecute SharePermission = "execute"
)

// WorkflowShare is a (workflow, group) -> permission grant, unique per
// pair; Share() upserts the same row rather than duplicating it.
type WorkflowShare struct {
	WorkflowID uuid.UUID
	GroupID    uuid.UUID
	Permission SharePermission
}

// WorkflowSchedule is the persisted shape an external cron-like wrapper
// reads/writes (spec §1 non-goal: scheduled execution itself is out of
// scope, but the table is named in §6's persisted-state layout).
type WorkflowSchedule struct {
	ID         uuid.UUID
	WorkflowID uuid.UUID
	CronExpr   string
	IsEnabled  bool
	LastRunAt  *time.Time
}

// RolePermissionRow mirrors authz.Row for persistence.
type RolePermissionRow struct {
	Role         Role
	Permission   string
	ResourceType string
}
