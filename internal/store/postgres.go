package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBTX is a common interface for *sql.DB and *sql.Tx, the same shape the
// teacher's data models are built against.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Postgres is the production Store implementation.
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// DB exposes the underlying connection pool for subsystems (audit
// export, migrations) that need raw database/sql access outside the
// Store interface.
func (p *Postgres) DB() *sql.DB { return p.db }

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Users ---

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (username, email, password_hash, is_active, is_permanent_admin, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := p.db.QueryRowContext(ctx, query, u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsPermanentAdmin, string(u.Role)).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

func (p *Postgres) scanUser(row *sql.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsPermanentAdmin, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	u.Role = Role(role)
	return &u, nil
}

const userColumns = `id, username, email, password_hash, is_active, is_permanent_admin, role, created_at, updated_at`

func (p *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return p.scanUser(row)
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return p.scanUser(row)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return p.scanUser(row)
}

func (p *Postgres) UpdateUser(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET username = $1, email = $2, password_hash = $3, is_active = $4, is_permanent_admin = $5, role = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`
	err := p.db.QueryRowContext(ctx, query, u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsPermanentAdmin, string(u.Role), u.ID).
		Scan(&u.UpdatedAt)
	return mapErr(err)
}

func (p *Postgres) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (p *Postgres) ListUsers(ctx context.Context, includeInactive bool) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if !includeInactive {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsPermanentAdmin, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (p *Postgres) SetUserRole(ctx context.Context, userID uuid.UUID, role Role, isPermanentAdmin bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET role = $1, is_permanent_admin = $2, updated_at = NOW() WHERE id = $3`,
		string(role), isPermanentAdmin, userID)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sessions ---

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	query := `INSERT INTO sessions (user_id, token, expires_at) VALUES ($1, $2, $3) RETURNING id, created_at`
	return mapErr(p.db.QueryRowContext(ctx, query, s.UserID, s.Token, s.ExpiresAt).Scan(&s.ID, &s.CreatedAt))
}

func (p *Postgres) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	var s Session
	err := p.db.QueryRowContext(ctx, `SELECT id, user_id, token, expires_at, created_at FROM sessions WHERE token = $1`, token).
		Scan(&s.ID, &s.UserID, &s.Token, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (p *Postgres) DeleteSession(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (p *Postgres) DeleteSessionsForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

func (p *Postgres) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Refresh tokens ---

func (p *Postgres) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	query := `INSERT INTO refresh_tokens (user_id, token, expires_at, is_revoked) VALUES ($1, $2, $3, false) RETURNING id, created_at`
	return mapErr(p.db.QueryRowContext(ctx, query, t.UserID, t.Token, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt))
}

func (p *Postgres) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	err := p.db.QueryRowContext(ctx, `SELECT id, user_id, token, expires_at, is_revoked, created_at FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.IsRevoked, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (p *Postgres) RevokeRefreshToken(ctx context.Context, token string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE refresh_tokens SET is_revoked = true WHERE token = $1`, token)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (p *Postgres) RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `UPDATE refresh_tokens SET is_revoked = true WHERE user_id = $1`, userID)
	return err
}

func (p *Postgres) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Password reset tokens ---

func (p *Postgres) CreatePasswordResetToken(ctx context.Context, t *PasswordResetToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (email, token, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
	`, t.Email, t.Token, t.ExpiresAt)
	return err
}

func (p *Postgres) GetPasswordResetToken(ctx context.Context, token string) (*PasswordResetToken, error) {
	var t PasswordResetToken
	err := p.db.QueryRowContext(ctx, `SELECT email, token, expires_at FROM password_reset_tokens WHERE token = $1`, token).
		Scan(&t.Email, &t.Token, &t.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (p *Postgres) GetPasswordResetTokenByEmail(ctx context.Context, email string) (*PasswordResetToken, error) {
	var t PasswordResetToken
	err := p.db.QueryRowContext(ctx, `SELECT email, token, expires_at FROM password_reset_tokens WHERE email = $1`, email).
		Scan(&t.Email, &t.Token, &t.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (p *Postgres) ConsumePasswordResetToken(ctx context.Context, token string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE token = $1`, token)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

// --- Groups ---

func (p *Postgres) CreateGroup(ctx context.Context, g *Group) error {
	return mapErr(p.db.QueryRowContext(ctx, `INSERT INTO groups (name, description) VALUES ($1, $2) RETURNING id`,
		g.Name, g.Description).Scan(&g.ID))
}

func (p *Postgres) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	var g Group
	err := p.db.QueryRowContext(ctx, `SELECT id, name, description FROM groups WHERE id = $1`, id).Scan(&g.ID, &g.Name, &g.Description)
	if err != nil {
		return nil, mapErr(err)
	}
	return &g, nil
}

func (p *Postgres) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, description FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (p *Postgres) AddUserToGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO group_assignments (user_id, group_id) VALUES ($1, $2)
		ON CONFLICT (user_id, group_id) DO NOTHING
	`, userID, groupID)
	return err
}

func (p *Postgres) RemoveUserFromGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM group_assignments WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	return err
}

func (p *Postgres) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]*Group, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description FROM groups g
		JOIN group_assignments ga ON ga.group_id = g.id
		WHERE ga.user_id = $1
		ORDER BY g.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// --- Workflows ---
//
// Steps are stored as a single JSONB column rather than a child table:
// every mutation rewrites the whole ordered list anyway (spec §4.3), so a
// child table would buy referential integrity FlowForge never exercises
// at the cost of N+1 round trips on every read.

func (p *Postgres) CreateWorkflow(ctx context.Context, w *Workflow) error {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO workflows (owner_user_id, name, description, steps, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	return mapErr(p.db.QueryRowContext(ctx, query, w.OwnerUserID, w.Name, w.Description, stepsJSON, w.IsActive).
		Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt))
}

const workflowColumns = `id, owner_user_id, name, description, steps, is_active, created_at, updated_at`

func scanWorkflow(row interface {
	Scan(dest ...any) error
}) (*Workflow, error) {
	var w Workflow
	var stepsJSON []byte
	if err := row.Scan(&w.ID, &w.OwnerUserID, &w.Name, &w.Description, &stepsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &w.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	return &w, nil
}

func (p *Postgres) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (p *Postgres) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	query := `
		UPDATE workflows
		SET name = $1, description = $2, is_active = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`
	return mapErr(p.db.QueryRowContext(ctx, query, w.Name, w.Description, w.IsActive, w.ID).Scan(&w.UpdatedAt))
}

func (p *Postgres) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (p *Postgres) ListWorkflowsOwnedBy(ctx context.Context, ownerID uuid.UUID) ([]*Workflow, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE owner_user_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) ListWorkflowsVisibleToGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*Workflow, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT w.id, w.owner_user_id, w.name, w.description, w.steps, w.is_active, w.created_at, w.updated_at
		FROM workflows w
		JOIN workflow_shares s ON s.workflow_id = w.id
		WHERE s.group_id = ANY($1)
		ORDER BY w.created_at
	`, pq.Array(uuidArray(groupIDs)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) ReplaceSteps(ctx context.Context, workflowID uuid.UUID, steps []Step) error {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE workflows SET steps = $1, updated_at = NOW() WHERE id = $2`, stepsJSON, workflowID)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (p *Postgres) UpdateStepResult(ctx context.Context, workflowID uuid.UUID, stepID string, step Step) error {
	w, err := p.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	found := false
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			w.Steps[i] = step
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	return p.ReplaceSteps(ctx, workflowID, w.Steps)
}

// --- Shares ---

func (p *Postgres) UpsertShare(ctx context.Context, s WorkflowShare) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO workflow_shares (workflow_id, group_id, permission) VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, group_id) DO UPDATE SET permission = EXCLUDED.permission
	`, s.WorkflowID, s.GroupID, string(s.Permission))
	return err
}

func (p *Postgres) RemoveShare(ctx context.Context, workflowID, groupID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM workflow_shares WHERE workflow_id = $1 AND group_id = $2`, workflowID, groupID)
	return err
}

func (p *Postgres) ListSharesForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]WorkflowShare, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT workflow_id, group_id, permission FROM workflow_shares WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, err
	}
	return scanShares(rows)
}

func (p *Postgres) ListSharesForGroups(ctx context.Context, groupIDs []uuid.UUID) ([]WorkflowShare, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT workflow_id, group_id, permission FROM workflow_shares WHERE group_id = ANY($1)`, pq.Array(uuidArray(groupIDs)))
	if err != nil {
		return nil, err
	}
	return scanShares(rows)
}

func scanShares(rows *sql.Rows) ([]WorkflowShare, error) {
	defer rows.Close()
	var out []WorkflowShare
	for rows.Next() {
		var s WorkflowShare
		var perm string
		if err := rows.Scan(&s.WorkflowID, &s.GroupID, &perm); err != nil {
			return nil, err
		}
		s.Permission = SharePermission(perm)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSharesForWorkflow(ctx context.Context, workflowID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM workflow_shares WHERE workflow_id = $1`, workflowID)
	return err
}

// --- Role permissions ---

func (p *Postgres) LoadRolePermissions(ctx context.Context) ([]RolePermissionRow, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT role, permission, resource_type FROM role_permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RolePermissionRow
	for rows.Next() {
		var r RolePermissionRow
		var role string
		if err := rows.Scan(&role, &r.Permission, &r.ResourceType); err != nil {
			return nil, err
		}
		r.Role = Role(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRolePermissions(ctx context.Context, rows []RolePermissionRow) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions`); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO role_permissions (role, permission, resource_type) VALUES ($1, $2, $3)`,
			string(r.Role), r.Permission, r.ResourceType); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Schedules ---

func (p *Postgres) CreateSchedule(ctx context.Context, s *WorkflowSchedule) error {
	query := `INSERT INTO workflow_schedules (workflow_id, cron_expr, is_enabled) VALUES ($1, $2, $3) RETURNING id`
	return mapErr(p.db.QueryRowContext(ctx, query, s.WorkflowID, s.CronExpr, s.IsEnabled).Scan(&s.ID))
}

func (p *Postgres) GetSchedule(ctx context.Context, id uuid.UUID) (*WorkflowSchedule, error) {
	var s WorkflowSchedule
	err := p.db.QueryRowContext(ctx, `SELECT id, workflow_id, cron_expr, is_enabled, last_run_at FROM workflow_schedules WHERE id = $1`, id).
		Scan(&s.ID, &s.WorkflowID, &s.CronExpr, &s.IsEnabled, &s.LastRunAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (p *Postgres) ListSchedulesForWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*WorkflowSchedule, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, workflow_id, cron_expr, is_enabled, last_run_at FROM workflow_schedules WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*WorkflowSchedule
	for rows.Next() {
		var s WorkflowSchedule
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.CronExpr, &s.IsEnabled, &s.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM workflow_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func uuidArray(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

var _ Store = (*Postgres)(nil)
