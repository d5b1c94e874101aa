package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flowforge_rate_limit_decisions_total",
	Help: "Rate limit decisions by scope and result (allowed/blocked)",
}, []string{"scope", "result"})

var rateLimitRedisErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flowforge_rate_limit_redis_errors_total",
	Help: "Redis failures encountered while evaluating rate limits",
})

// RecordRateLimit increments the decision counter for a rate-limit
// scope (ip, user, login, endpoint) and outcome (allowed, blocked).
func RecordRateLimit(scope string, result string) {
	rateLimitDecisions.WithLabelValues(scope, result).Inc()
}

// RecordRedisError increments the counter tracking rate limiter Redis
// unavailability, distinct from the fail-open/fail-closed decision
// logged by the caller.
func RecordRedisError() {
	rateLimitRedisErrors.Inc()
}
