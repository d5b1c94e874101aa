package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/flowforge/internal/audit"
)

type AuditMiddleware struct {
	service *audit.Service
}

func NewAuditMiddleware(s *audit.Service) *AuditMiddleware {
	return &AuditMiddleware{service: s}
}

// LogRequest records mutating requests (and auth endpoints, always) to
// the append-only audit log. Applied ahead of authenticated routes.
func (m *AuditMiddleware) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseCapture{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		isMutating := r.Method == http.MethodPost || r.Method == http.MethodPut ||
			r.Method == http.MethodPatch || r.Method == http.MethodDelete
		isAuth := strings.HasPrefix(r.URL.Path, "/auth/")
		if !isMutating && !isAuth {
			return
		}

		evt := audit.Event{
			EventID:    uuid.New(),
			Action:     truncate(fmt.Sprintf("http.%s", strings.ToLower(r.Method)), 100),
			TargetType: "http_route",
			TargetID:   truncate(r.URL.Path, 100),
			Result:     "success",
			RequestID:  truncate(r.Header.Get("X-Request-ID"), 100),
			ClientIP:   truncate(clientIP(r), 50),
			UserAgent:  truncate(r.UserAgent(), 255),
			CreatedAt:  time.Now().UTC(),
		}
		evt.Metadata = json.RawMessage(fmt.Sprintf(`{"latency_ms": %d}`, time.Since(start).Milliseconds()))

		if ww.status >= 400 {
			evt.Result = "failure"
			evt.ReasonCode = truncate(fmt.Sprintf("http_%d", ww.status), 50)
		}

		if ac, ok := GetAuthContext(r.Context()); ok {
			uid := ac.UserID
			evt.ActorUserID = &uid
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.service.WriteEvent(ctx, evt)
		}()
	})
}

type responseCapture struct {
	http.ResponseWriter
	status int
}

func (w *responseCapture) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
