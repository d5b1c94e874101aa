package workflow_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/flowforge/internal/store"
	"github.com/technosupport/flowforge/internal/workflow"
)

func newTestService() (*workflow.Service, store.Store) {
	st := store.NewMemory()
	return workflow.NewService(st, nil, nil), st
}

func TestAppendAutoAssignsNPlusOne(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	wf, err := svc.CreateWorkflow(ctx, uuid.New(), "wf", "")
	require.NoError(t, err)

	s1, err := svc.AppendStep(ctx, wf.ID, store.Step{Name: "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s1.Order)

	s2, err := svc.AppendStep(ctx, wf.ID, store.Step{Name: "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Order)

	got, err := st.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 2)
}

func TestAppendExplicitOrderCollision(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	wf, _ := svc.CreateWorkflow(ctx, uuid.New(), "wf", "")

	_, err := svc.AppendStep(ctx, wf.ID, store.Step{Name: "a"}, nil)
	require.NoError(t, err)

	one := 1
	_, err = svc.AppendStep(ctx, wf.ID, store.Step{Name: "b"}, &one)
	assert.ErrorIs(t, err, workflow.ErrOrderCollision)
}

func TestUpdateStepOrderRejectsCollision(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	wf, _ := svc.CreateWorkflow(ctx, uuid.New(), "wf", "")

	s1, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "a"}, nil)
	s2, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "b"}, nil)

	err := svc.UpdateStepOrder(ctx, wf.ID, s2.ID, s1.Order)
	assert.ErrorIs(t, err, workflow.ErrOrderCollision)
}

func TestReorderStepsRenumbers(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()
	wf, _ := svc.CreateWorkflow(ctx, uuid.New(), "wf", "")

	s1, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "a"}, nil)
	s2, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "b"}, nil)
	s3, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "c"}, nil)

	require.NoError(t, svc.ReorderSteps(ctx, wf.ID, []string{s3.ID, s1.ID, s2.ID}))

	got, err := st.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	byID := map[string]int{}
	for _, s := range got.Steps {
		byID[s.ID] = s.Order
	}
	assert.Equal(t, 1, byID[s3.ID])
	assert.Equal(t, 2, byID[s1.ID])
	assert.Equal(t, 3, byID[s2.ID])
}

func TestDeleteStepCompactsRemainingOrders(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()
	wf, _ := svc.CreateWorkflow(ctx, uuid.New(), "wf", "")

	s1, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "a"}, nil)
	s2, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "b"}, nil)
	s3, _ := svc.AppendStep(ctx, wf.ID, store.Step{Name: "c"}, nil)

	require.NoError(t, svc.DeleteStep(ctx, wf.ID, s2.ID))

	got, err := st.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	byID := map[string]int{}
	for _, s := range got.Steps {
		byID[s.ID] = s.Order
	}
	assert.Equal(t, 1, byID[s1.ID])
	assert.Equal(t, 2, byID[s3.ID])
}

func TestDeleteWorkflowCascadesShares(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()
	wf, _ := svc.CreateWorkflow(ctx, uuid.New(), "wf", "")
	group := &store.Group{Name: "g"}
	require.NoError(t, st.CreateGroup(ctx, group))
	require.NoError(t, svc.Share(ctx, wf.ID, group.ID, store.ShareRead))

	require.NoError(t, svc.DeleteWorkflow(ctx, wf.ID))

	shares, err := st.ListSharesForWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, shares, 0)
}

func TestEffectiveShareTakesHighestRank(t *testing.T) {
	shares := []store.WorkflowShare{
		{GroupID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Permission: store.ShareRead},
		{GroupID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Permission: store.ShareWrite},
	}
	memberOf := map[uuid.UUID]bool{
		uuid.MustParse("00000000-0000-0000-0000-000000000001"): true,
		uuid.MustParse("00000000-0000-0000-0000-000000000002"): true,
	}
	assert.Equal(t, store.ShareWrite, workflow.EffectiveShare(shares, memberOf))
}
