package audit_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/flowforge/internal/audit"
)

func newTestService(t *testing.T, db *sql.DB, spoolDir string) *audit.Service {
	t.Helper()
	return audit.NewService(db, audit.SpoolConfig{Dir: spoolDir, ReplayEvery: time.Hour}, nil)
}

func TestWriteEventSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newTestService(t, db, t.TempDir())
	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))

	evt := audit.Event{EventID: uuid.New(), Action: "workflow.created", Result: "success"}
	require.NoError(t, s.WriteEvent(context.Background(), evt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteEventGeneratesIDWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newTestService(t, db, t.TempDir())
	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))

	evt := audit.Event{EventID: uuid.Nil, Action: "login"}
	require.NoError(t, s.WriteEvent(context.Background(), evt))
}

func TestWriteEventFallsBackToSpoolOnDBFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	s := newTestService(t, db, dir)
	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(sql.ErrConnDone)

	evt := audit.Event{EventID: uuid.New(), Action: "login.failed"}
	require.NoError(t, s.WriteEvent(context.Background(), evt), "DB failure must be swallowed once spooled")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "spool file should exist after DB failure")
}

func TestReplaySpoolDrainsEventsIntoDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	spoolingService := newTestService(t, db, dir)
	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(sql.ErrConnDone)
	evt := audit.Event{EventID: uuid.New(), Action: "step.executed"}
	require.NoError(t, spoolingService.WriteEvent(context.Background(), evt))

	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	spoolingService.ReplaySpool(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "replay_", "replay file must be removed once drained")
	}
}

func TestQueryEventsAppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newTestService(t, db, t.TempDir())
	rows := sqlmock.NewRows([]string{"id", "event_id", "actor_id", "action", "target_type", "target_id", "result", "detail", "occurred_at"}).
		AddRow(uuid.New(), uuid.New(), nil, "workflow.created", "workflow", "wf-1", "success", []byte("{}"), time.Now())

	mock.ExpectQuery("SELECT id, event_id").WillReturnRows(rows)

	events, lastID, err := s.QueryEvents(context.Background(), audit.Filter{Result: "success", Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "workflow.created", events[0].Action)
	assert.NotEmpty(t, lastID)
}
