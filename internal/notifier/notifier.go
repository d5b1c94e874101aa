// Package notifier implements the token-expiry push channel of spec §4.5:
// one cooperative monitor per connected client that adaptively polls the
// remaining lifetime of the caller's access token and sends a single
// "refresh soon" warning before it expires.
package notifier

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/technosupport/flowforge/internal/tokens"
)

// Schedule maps remaining token lifetime to the next poll interval (spec
// §4.5 adaptive polling table).
func Schedule(remaining time.Duration) time.Duration {
	switch {
	case remaining > 10*time.Minute:
		return 5 * time.Minute
	case remaining > 5*time.Minute:
		return 2 * time.Minute
	case remaining > 2*time.Minute:
		return 1 * time.Minute
	case remaining > time.Minute:
		return 30 * time.Second
	case remaining > 10*time.Second:
		return 10 * time.Second
	default:
		return 5 * time.Second
	}
}

// WarningThreshold is the remaining-lifetime point at which the single
// refresh warning fires (spec §4.5).
const WarningThreshold = 60 * time.Second

// disconnectPoll is the read-loop timeout used to detect a closed
// connection without blocking server shutdown (spec §4.5).
const disconnectPoll = 1 * time.Second

// Warning is the payload sent exactly once per connection.
type Warning struct {
	CallRefresh          bool   `json:"call_refresh"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds"`
	Message              string `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is the minimal surface of *websocket.Conn the monitor needs,
// narrowed so the loop can be tested without a real socket.
type Conn interface {
	SetReadDeadline(t time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Handler upgrades a request to a websocket and runs one monitor per
// connection. The bearer token is read from the "token" query parameter,
// matching the teacher's WS auth convention.
type Handler struct {
	tokens *tokens.Manager
	clock  func() time.Time
}

func NewHandler(tm *tokens.Manager) *Handler {
	return &Handler{tokens: tm, clock: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if claims.ExpiresAt == nil {
		http.Error(w, "token has no expiry", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	RunMonitor(r.Context(), conn, claims.ExpiresAt.Time, h.clock)
}

// RunMonitor runs the adaptive-polling warning loop for one connection
// until the warning is sent, the token expires, the context is
// cancelled, or the client disconnects. It owns closing conn.
func RunMonitor(ctx context.Context, conn Conn, expiresAt time.Time, now func() time.Time) {
	defer conn.Close()

	disconnected := make(chan struct{})
	go watchForDisconnect(conn, disconnected)

	for {
		remaining := expiresAt.Sub(now())
		if remaining <= WarningThreshold {
			_ = conn.WriteJSON(Warning{
				CallRefresh:          true,
				TimeRemainingSeconds: int(remaining.Seconds()),
				Message:              "access token expires soon, refresh now",
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-disconnected:
			return
		case <-time.After(Schedule(remaining)):
		}
	}
}

// watchForDisconnect short-polls ReadMessage (spec §4.5: "~1s with a
// timeout to detect client disconnect without blocking shutdown") and
// closes the channel the moment the read fails for a reason other than
// an expected poll timeout.
func watchForDisconnect(conn Conn, done chan<- struct{}) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(disconnectPoll)); err != nil {
			close(done)
			return
		}
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		close(done)
		return
	}
}
