package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig holds the allowed origins for cross-origin requests
// (spec's ambient config story, alongside rate limiting and JWT).
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// NewCORS builds the CORS middleware from configured allowed origins.
// An empty list falls back to "*" so a missing config section still
// leaves local development and simple single-origin deployments working.
func NewCORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := cfg.AllowedOrigins
	allowAll := len(allowed) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && originAllowed(allowed, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Auth")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
