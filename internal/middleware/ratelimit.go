package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/technosupport/flowforge/internal/ratelimit"
)

// Config holds the rate-limit thresholds for the global IP bucket, the
// per-authenticated-user bucket, the login endpoint, and any other
// path-specific overrides (spec §4.7).
type Config struct {
	GlobalIP  ratelimit.LimitConfig            `yaml:"global_ip"`
	User      ratelimit.LimitConfig            `yaml:"user"`
	Login     ratelimit.LimitConfig            `yaml:"login"`
	Endpoints map[string]ratelimit.LimitConfig `yaml:"endpoints"`
}

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	log     *zap.Logger

	mu     sync.RWMutex
	config Config
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c Config, log *zap.Logger) *RateLimitMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimitMiddleware{
		limiter: l,
		config:  c,
		log:     log,
	}
}

// UpdateConfig swaps the active thresholds, used by the config watcher
// to apply a hot-reloaded rate-limit table without restarting.
func (m *RateLimitMiddleware) UpdateConfig(c Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = c
}

func (m *RateLimitMiddleware) getConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GlobalLimiter enforces the IP bucket on every request, the user bucket
// on authenticated requests, and any endpoint-specific bucket matching
// the request path. Redis failures fail closed on auth routes and fail
// open elsewhere, per spec §4.7's failure policy.
func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := m.getConfig()
		ip := clientIP(r)
		ipHash := m.limiter.HashIP(ip)
		isAuthRoute := strings.HasPrefix(r.URL.Path, "/auth/")

		ipKey := fmt.Sprintf("rl:ip:%s", ipHash)
		decision, err := m.limiter.CheckRateLimit(r.Context(), ipKey, cfg.GlobalIP)
		if err == ratelimit.ErrRedisUnavailable {
			RecordRedisError()
			if isAuthRoute {
				m.log.Warn("rate limit redis unavailable, failing closed", zap.String("path", r.URL.Path))
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			m.log.Warn("rate limit redis unavailable, failing open", zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
			return
		} else if err != nil {
			m.log.Warn("rate limit check failed, failing open", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			RecordRateLimit(string(ratelimit.ScopeGlobalIP), "blocked")
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		RecordRateLimit(string(ratelimit.ScopeGlobalIP), "allowed")

		if ac, ok := GetAuthContext(r.Context()); ok {
			userKey := fmt.Sprintf("rl:user:%s", ac.UserID)
			uDecision, err := m.limiter.CheckRateLimit(r.Context(), userKey, cfg.User)
			if err == nil && !uDecision.Allowed {
				RecordRateLimit(string(ratelimit.ScopeUser), "blocked")
				m.writeRateLimitHeaders(w, uDecision)
				http.Error(w, "user rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		if limitConfig, found := cfg.Endpoints[r.URL.Path]; found {
			epKey := fmt.Sprintf("rl:ep:%s:%s", ipHash, r.URL.Path)
			epDecision, err := m.limiter.CheckRateLimit(r.Context(), epKey, limitConfig)
			if err == nil && !epDecision.Allowed {
				RecordRateLimit(string(ratelimit.ScopeEndpoint), "blocked")
				m.writeRateLimitHeaders(w, epDecision)
				http.Error(w, "endpoint rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// LoginLimiter enforces the stricter login bucket keyed by IP hash,
// ahead of credential validation (spec §4.7 step D). Applied only to
// the login route.
func (m *RateLimitMiddleware) LoginLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipHash := m.limiter.HashIP(clientIP(r))
		key := fmt.Sprintf("rl:login:%s", ipHash)

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.getConfig().Login)
		if err == ratelimit.ErrRedisUnavailable {
			RecordRedisError()
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if err == nil && !decision.Allowed {
			RecordRateLimit(string(ratelimit.ScopeLogin), "blocked")
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "too many login attempts", http.StatusTooManyRequests)
			return
		}
		RecordRateLimit(string(ratelimit.ScopeLogin), "allowed")
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
