// Package events publishes workflow lifecycle notifications to NATS for
// any downstream subscriber (schedulers, dashboards, audit mirrors) that
// wants them without coupling to the API layer.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/flowforge/internal/executor"
)

// WorkflowExecuted is the wire payload published after every workflow
// run (spec §4.4 step 6 completion).
type WorkflowExecuted struct {
	WorkflowID uuid.UUID              `json:"workflow_id"`
	Status     executor.WorkflowStatus `json:"status"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// Publisher publishes to a fixed subject with bounded retry and linear
// backoff, mirroring the teacher's NATS publisher.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
	now        func() time.Time
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	return &Publisher{conn: conn, subject: subject, maxRetries: maxRetries, now: time.Now}
}

// PublishWorkflowExecuted satisfies api.EventPublisher. Failures are
// swallowed after retries are exhausted — event delivery is
// best-effort, never a reason to fail the HTTP response that already
// completed the actual execution.
func (p *Publisher) PublishWorkflowExecuted(workflowID uuid.UUID, status executor.WorkflowStatus) {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.publish(WorkflowExecuted{
		WorkflowID: workflowID,
		Status:     status,
		OccurredAt: p.now().UTC(),
	})
}

func (p *Publisher) publish(event WorkflowExecuted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal workflow_executed: %w", err)
	}

	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		if lastErr = p.conn.Publish(p.subject, data); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("events: publish failed after %d retries: %w", p.maxRetries, lastErr)
}
