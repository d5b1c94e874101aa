package notifier_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/flowforge/internal/notifier"
)

func TestScheduleMatchesSpecTable(t *testing.T) {
	cases := []struct {
		remaining time.Duration
		want      time.Duration
	}{
		{11 * time.Minute, 5 * time.Minute},
		{7 * time.Minute, 2 * time.Minute},
		{3 * time.Minute, time.Minute},
		{90 * time.Second, 30 * time.Second},
		{30 * time.Second, 10 * time.Second},
		{5 * time.Second, 5 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, notifier.Schedule(c.remaining))
	}
}

// fakeConn is an in-memory double for notifier.Conn: ReadMessage blocks
// until closed, exactly like gorilla's would under an idle connection.
type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	warnings []notifier.Warning
}

func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	time.Sleep(2 * time.Millisecond)
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, nil, net.ErrClosed
	}
	return 0, nil, &timeoutError{}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, v.(notifier.Warning))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRunMonitorSendsWarningExactlyOnceNearExpiry(t *testing.T) {
	conn := &fakeConn{}
	expiresAt := time.Now().Add(45 * time.Second)

	notifier.RunMonitor(context.Background(), conn, expiresAt, time.Now)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.warnings, 1)
	assert.True(t, conn.warnings[0].CallRefresh)
	assert.True(t, conn.closed)
}

func TestRunMonitorStopsOnContextCancel(t *testing.T) {
	conn := &fakeConn{}
	expiresAt := time.Now().Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		notifier.RunMonitor(ctx, conn, expiresAt, time.Now)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMonitor did not return after context cancel")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Len(t, conn.warnings, 0)
	assert.True(t, conn.closed)
}

func TestRunMonitorStopsOnDisconnect(t *testing.T) {
	conn := &fakeConn{}
	expiresAt := time.Now().Add(time.Hour)

	done := make(chan struct{})
	go func() {
		notifier.RunMonitor(context.Background(), conn, expiresAt, time.Now)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	conn.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMonitor did not return after disconnect")
	}
}
