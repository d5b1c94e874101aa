package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/flowforge/internal/cleanup"
	"github.com/technosupport/flowforge/internal/store"
)

func TestSweepDeletesOnlyExpiredRows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	userID := uuid.New()
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID: uuid.New(), UserID: userID, Token: "live", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID: uuid.New(), UserID: userID, Token: "dead", ExpiresAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, st.CreateRefreshToken(ctx, &store.RefreshToken{
		ID: uuid.New(), UserID: userID, Token: "dead-refresh", ExpiresAt: time.Now().Add(-time.Minute),
	}))

	sched := cleanup.NewScheduler(st, time.Hour, nil)
	sched.Sweep(ctx)

	_, err := st.GetSessionByToken(ctx, "live")
	assert.NoError(t, err)
	_, err = st.GetSessionByToken(ctx, "dead")
	assert.Error(t, err)
	_, err = st.GetRefreshToken(ctx, "dead-refresh")
	assert.Error(t, err)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sched := cleanup.NewScheduler(st, time.Hour, nil)

	sched.Sweep(ctx)
	sched.Sweep(ctx)
}

func TestStartStopTerminatesCleanly(t *testing.T) {
	st := store.NewMemory()
	sched := cleanup.NewScheduler(st, 10*time.Millisecond, nil)
	sched.Start()
	time.Sleep(25 * time.Millisecond)
	sched.Stop()
}
