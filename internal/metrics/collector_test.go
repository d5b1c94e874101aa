package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/flowforge/internal/metrics"
)

func TestCollectorExposesRecordedMetrics(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordLogin("success")
	c.RecordLogin("bad_credentials")
	c.RecordTokenRefresh("success")
	c.RecordStepExecution("shell", "success")
	c.RecordWorkflowRun("completed")
	c.SetActiveSessions(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	require.True(t, strings.Contains(body, `flowforge_logins_total{result="success"} 1`))
	require.True(t, strings.Contains(body, `flowforge_logins_total{result="bad_credentials"} 1`))
	require.True(t, strings.Contains(body, `flowforge_step_executions_total{script_type="shell",status="success"} 1`))
	require.True(t, strings.Contains(body, `flowforge_workflow_runs_total{status="completed"} 1`))
	require.True(t, strings.Contains(body, "flowforge_active_sessions 3"))
}
