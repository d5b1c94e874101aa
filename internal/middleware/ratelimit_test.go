package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/ratelimit"
)

func TestRateLimitGlobalIP(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 2, Window: time.Second},
	}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)

	handler := mw.GlobalLimiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected remaining 0")
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimitRedisDownFailsOpenOnAPIRoutes(t *testing.T) {
	mr, _ := miniredis.Run()
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{GlobalIP: ratelimit.LimitConfig{Rate: 1, Window: time.Second}}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	w := httptest.NewRecorder()

	mw.GlobalLimiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})).ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("expected 200 (fail open), got %d", w.Code)
	}
}

func TestRateLimitRedisDownFailsClosedOnAuthRoutes(t *testing.T) {
	mr, _ := miniredis.Run()
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{GlobalIP: ratelimit.LimitConfig{Rate: 1, Window: time.Second}}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)

	req := httptest.NewRequest("POST", "/auth/login", nil)
	w := httptest.NewRecorder()

	mw.GlobalLimiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})).ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 (fail closed), got %d", w.Code)
	}
}

func TestRateLimitUserBucket(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 100, Window: time.Second},
		User:     ratelimit.LimitConfig{Rate: 1, Window: time.Second},
	}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)

	ac := &middleware.AuthContext{UserID: uuid.New(), Role: authz.RoleViewer}
	req := httptest.NewRequest("GET", "/", nil).WithContext(middleware.WithAuthContext(context.Background(), ac))
	req.RemoteAddr = "10.0.0.1:123"

	handler := mw.GlobalLimiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Fatalf("expected 429 on second request (user bucket), got %d", w.Code)
	}
}

func TestLoginLimiterBlocksAfterThreshold(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := ratelimit.NewLimiter(rdb, "salt")
	cfg := middleware.Config{Login: ratelimit.LimitConfig{Rate: 1, Window: time.Minute}}
	mw := middleware.NewRateLimitMiddleware(limiter, cfg, nil)

	handler := mw.LoginLimiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	req.RemoteAddr = "9.9.9.9:1"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}
