package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/flowforge/internal/store"
)

func TestMemoryUserCRUDAndDuplicateDetection(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	u := &store.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEqual(t, uuid.Nil, u.ID)

	dup := &store.User{Username: "alice", Email: "other@example.com", PasswordHash: "x"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrDuplicate)

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemorySessionExpirySweep(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	live := &store.Session{UserID: uuid.New(), Token: "live", ExpiresAt: time.Now().Add(time.Hour)}
	expired := &store.Session{UserID: uuid.New(), Token: "expired", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, expired))

	n, err := s.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSessionByToken(ctx, "live")
	assert.NoError(t, err)
	_, err = s.GetSessionByToken(ctx, "expired")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryWorkflowStepsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	owner := uuid.New()
	wf := &store.Workflow{OwnerUserID: owner, Name: "daily-ingest", IsActive: true}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	steps := []store.Step{
		{ID: "s1", Name: "fetch", Order: 1, ScriptType: store.ScriptPython},
		{ID: "s2", Name: "transform", Order: 2, ScriptType: store.ScriptLua},
	}
	require.NoError(t, s.ReplaceSteps(ctx, wf.ID, steps))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "transform", got.Steps[1].Name)

	// mutating the returned slice must not corrupt internal state.
	got.Steps[0].Name = "mutated"
	again, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "fetch", again.Steps[0].Name)

	updated := steps[1]
	updated.LastStatus = store.StatusCompleted
	require.NoError(t, s.UpdateStepResult(ctx, wf.ID, "s2", updated))
	again, err = s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, again.Steps[1].LastStatus)
}

func TestMemoryShareVisibilityAcrossGroups(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	wf := &store.Workflow{OwnerUserID: uuid.New(), Name: "shared-wf"}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	group := &store.Group{Name: "ops"}
	require.NoError(t, s.CreateGroup(ctx, group))

	require.NoError(t, s.UpsertShare(ctx, store.WorkflowShare{WorkflowID: wf.ID, GroupID: group.ID, Permission: store.ShareExecute}))

	visible, err := s.ListWorkflowsVisibleToGroups(ctx, []uuid.UUID{group.ID})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, wf.ID, visible[0].ID)

	// upsert replaces rather than duplicates
	require.NoError(t, s.UpsertShare(ctx, store.WorkflowShare{WorkflowID: wf.ID, GroupID: group.ID, Permission: store.ShareRead}))
	shares, err := s.ListSharesForWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, store.ShareRead, shares[0].Permission)

	require.NoError(t, s.RemoveShare(ctx, wf.ID, group.ID))
	shares, err = s.ListSharesForWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, shares, 0)
}

func TestMemoryGroupDeleteCascadesShares(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	wf := &store.Workflow{OwnerUserID: uuid.New(), Name: "wf"}
	require.NoError(t, s.CreateWorkflow(ctx, wf))
	group := &store.Group{Name: "g"}
	require.NoError(t, s.CreateGroup(ctx, group))
	require.NoError(t, s.UpsertShare(ctx, store.WorkflowShare{WorkflowID: wf.ID, GroupID: group.ID, Permission: store.ShareRead}))

	require.NoError(t, s.DeleteGroup(ctx, group.ID))

	shares, err := s.ListSharesForWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, shares, 0)
}
