// Package metrics exposes the Prometheus counters and gauges the rest of
// the service increments: authentication outcomes, step executions, and
// workflow run outcomes (SPEC_FULL.md domain stack: prometheus/client_golang).
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can build disposable
// instances without colliding with the global promauto registry used
// elsewhere in the process.
type Collector struct {
	registry *prometheus.Registry

	mu           sync.RWMutex
	lastSnapshot time.Time

	up prometheus.Gauge

	loginsTotal         *prometheus.CounterVec
	tokenRefreshesTotal *prometheus.CounterVec
	stepExecutionsTotal *prometheus.CounterVec
	workflowRunsTotal   *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowforge_up",
		Help: "Whether the service process is running (always 1 once started)",
	})
	reg.MustRegister(c.up)

	c.loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_logins_total",
		Help: "Login attempts by result (success, bad_credentials, inactive, locked)",
	}, []string{"result"})
	reg.MustRegister(c.loginsTotal)

	c.tokenRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_token_refreshes_total",
		Help: "Refresh token exchanges by result (success, invalid, inactive_user)",
	}, []string{"result"})
	reg.MustRegister(c.tokenRefreshesTotal)

	c.stepExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_step_executions_total",
		Help: "Workflow step executions by script type and status",
	}, []string{"script_type", "status"})
	reg.MustRegister(c.stepExecutionsTotal)

	c.workflowRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_workflow_runs_total",
		Help: "Completed workflow runs by terminal status",
	}, []string{"status"})
	reg.MustRegister(c.workflowRunsTotal)

	c.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowforge_active_sessions",
		Help: "Live session count as last reported through SetActiveSessions",
	})
	reg.MustRegister(c.activeSessions)

	return c
}

// Start flips the up gauge and stamps lastSnapshot on a short tick so
// /healthz-adjacent scrapes can see the collector is alive even before
// any domain event has fired.
func (c *Collector) Start(ctx context.Context) {
	c.up.Set(1)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.up.Set(0)
			return
		case <-ticker.C:
			c.mu.Lock()
			c.lastSnapshot = time.Now()
			c.mu.Unlock()
		}
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordLogin(result string) {
	c.loginsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefreshesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordStepExecution(scriptType, status string) {
	c.stepExecutionsTotal.WithLabelValues(scriptType, status).Inc()
}

func (c *Collector) RecordWorkflowRun(status string) {
	c.workflowRunsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}
