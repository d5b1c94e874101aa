// Package audit is an append-only audit trail: every write goes through
// Service.WriteEvent, which tries a direct DB insert and falls back to an
// on-disk spool on failure, replayed later by a background ticker. No
// Update or Delete is exposed.
package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/google/uuid"
)

// Event is a single audit log entry.
type Event struct {
	ID          uuid.UUID       `json:"id"`       // DB primary key
	EventID     uuid.UUID       `json:"event_id"` // idempotency key
	ActorUserID *uuid.UUID      `json:"actor_user_id,omitempty"`
	Action      string          `json:"action"`
	TargetType  string          `json:"target_type,omitempty"`
	TargetID    string          `json:"target_id,omitempty"`
	Result      string          `json:"result"` // success/failure
	ReasonCode  string          `json:"reason_code,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	ClientIP    string          `json:"client_ip,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SpooledEvent is the JSONL wrapper written to the failover spool file.
type SpooledEvent struct {
	EventID   string    `json:"event_id"`
	Payload   Event     `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows QueryEvents. ExportEvents does not apply it.
type Filter struct {
	ActorUserID *uuid.UUID
	DateFrom    *time.Time
	DateTo      *time.Time
	Result      string
	Limit       int
	Cursor      string // ID-based cursor
}

// SpoolConfig controls the failover spool location, size cap, and replay
// cadence. Unlike the teacher's hardcoded Windows path, this is injected
// per deployment.
type SpoolConfig struct {
	Dir           string
	MaxBytes      int64
	ReplayEvery   time.Duration
}

func (c SpoolConfig) withDefaults() SpoolConfig {
	if c.Dir == "" {
		c.Dir = "./data/audit_spool"
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 1024 * 1024 * 1024
	}
	if c.ReplayEvery <= 0 {
		c.ReplayEvery = 30 * time.Second
	}
	return c
}

type Service struct {
	db    *sql.DB
	spool SpoolConfig
	log   *zap.Logger

	// recent dedupes event IDs written by this process recently, so a
	// spool replay of an event this same process already committed
	// skips the INSERT round-trip entirely instead of relying solely on
	// the DB's ON CONFLICT DO NOTHING.
	recent *lru.Cache[string, time.Time]
}

const recentEventCacheSize = 4096

func NewService(db *sql.DB, spool SpoolConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	recent, _ := lru.New[string, time.Time](recentEventCacheSize)
	return &Service{db: db, spool: spool.withDefaults(), log: log, recent: recent}
}

