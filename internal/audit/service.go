package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
)

func (s *Service) WriteEvent(ctx context.Context, evt Event) error {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	key := evt.EventID.String()
	if s.recent != nil {
		if _, ok := s.recent.Get(key); ok {
			return nil
		}
	}

	const query = `
		INSERT INTO audit_log (
			event_id, actor_id, action, target_type, target_id,
			result, reason_code, request_id, client_ip, user_agent, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		evt.EventID, evt.ActorUserID, evt.Action, evt.TargetType, evt.TargetID,
		evt.Result, evt.ReasonCode, evt.RequestID, evt.ClientIP, evt.UserAgent, evt.Metadata, evt.CreatedAt,
	)
	if err == nil {
		if s.recent != nil {
			s.recent.Add(key, evt.CreatedAt)
		}
		return nil
	}

	s.log.Warn("audit db write failed, spooling", zap.String("event_id", evt.EventID.String()), zap.Error(err))
	if spoolErr := s.spoolEvent(evt); spoolErr != nil {
		s.log.Error("audit spool write failed", zap.String("event_id", evt.EventID.String()), zap.Error(spoolErr))
		return fmt.Errorf("audit write failed and spool failed: %w", spoolErr)
	}
	return nil
}

// Append-only enforcement: no Update or Delete is exposed.

func (s *Service) QueryEvents(ctx context.Context, f Filter) ([]Event, string, error) {
	q := `SELECT id, event_id, actor_id, action, target_type, target_id, result, detail, occurred_at FROM audit_log WHERE true`
	var args []interface{}
	idx := 1

	if f.ActorUserID != nil {
		q += fmt.Sprintf(" AND actor_id = $%d", idx)
		args = append(args, *f.ActorUserID)
		idx++
	}
	if f.Result != "" {
		q += fmt.Sprintf(" AND result = $%d", idx)
		args = append(args, f.Result)
		idx++
	}
	if f.DateFrom != nil {
		q += fmt.Sprintf(" AND occurred_at >= $%d", idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		q += fmt.Sprintf(" AND occurred_at <= $%d", idx)
		args = append(args, *f.DateTo)
		idx++
	}
	if f.Cursor != "" {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var events []Event
	var lastID string
	for rows.Next() {
		var evt Event
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.ActorUserID, &evt.Action, &evt.TargetType, &evt.TargetID, &evt.Result, &meta, &evt.CreatedAt); err != nil {
			return nil, "", err
		}
		if len(meta) > 0 {
			evt.Metadata = json.RawMessage(meta)
		}
		events = append(events, evt)
		lastID = evt.ID.String()
	}
	return events, lastID, rows.Err()
}

// maxExportRecords bounds ExportEvents so one request can't stream an
// unbounded response body.
const maxExportRecords = 10000

func (s *Service) ExportEvents(ctx context.Context, f Filter, w io.Writer) error {
	q := `SELECT id, event_id, actor_id, action, target_type, target_id, result, detail, occurred_at FROM audit_log WHERE true ORDER BY occurred_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		if count >= maxExportRecords {
			break
		}
		var evt Event
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.ActorUserID, &evt.Action, &evt.TargetType, &evt.TargetID, &evt.Result, &meta, &evt.CreatedAt); err != nil {
			return err
		}
		if len(meta) > 0 {
			evt.Metadata = json.RawMessage(meta)
		}
		if err := enc.Encode(evt); err != nil {
			return err
		}
		count++
	}
	return rows.Err()
}
