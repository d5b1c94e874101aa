package session_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/technosupport/flowforge/internal/session"
)

func newTestManager(t *testing.T) (*session.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return session.NewManagerFromClient(rdb), mr
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	for i := 0; i < session.LockoutThreshold-1; i++ {
		if err := m.RecordFailedAttempt(ctx, "alice"); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	locked, err := m.CheckLockout(ctx, "alice")
	if err != nil {
		t.Fatalf("check lockout: %v", err)
	}
	if locked {
		t.Fatal("expected not locked below threshold")
	}

	if err := m.RecordFailedAttempt(ctx, "alice"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	locked, err = m.CheckLockout(ctx, "alice")
	if err != nil {
		t.Fatalf("check lockout: %v", err)
	}
	if !locked {
		t.Fatal("expected locked at threshold")
	}
}

func TestClearFailedAttemptsResetsCounter(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if err := m.RecordFailedAttempt(ctx, "bob"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := m.ClearFailedAttempts(ctx, "bob"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	for i := 0; i < session.LockoutThreshold-1; i++ {
		if err := m.RecordFailedAttempt(ctx, "bob"); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	locked, err := m.CheckLockout(ctx, "bob")
	if err != nil {
		t.Fatalf("check lockout: %v", err)
	}
	if locked {
		t.Fatal("expected not locked after reset")
	}
}

func TestLockoutIsolatedPerIdentifier(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	for i := 0; i < session.LockoutThreshold; i++ {
		if err := m.RecordFailedAttempt(ctx, "carol"); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	lockedCarol, _ := m.CheckLockout(ctx, "carol")
	lockedDave, _ := m.CheckLockout(ctx, "dave")
	if !lockedCarol {
		t.Fatal("expected carol locked")
	}
	if lockedDave {
		t.Fatal("expected dave unaffected")
	}
}
