package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"objectmap/internal/platform/kafka/consumer"
	audit "objectmap/pkg/platform/audit"
	auditpg "objectmap/pkg/platform/audit/store/postgres"
)

// EventHandler decodes relayed registry events and appends them to a sink.
type EventHandler struct {
	sink   audit.Store
	logger *slog.Logger
}

func NewEventHandler(sink audit.Store, logger *slog.Logger) *EventHandler {
	return &EventHandler{sink: sink, logger: logger}
}

// Handle appends the decoded event. Undecodable payloads are logged and skipped
// so a single bad record cannot stall the partition.
func (h *EventHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	event, err := Decode(msg.Value)
	if err != nil {
		h.logger.ErrorContext(ctx, "skipping undecodable registry event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if err := h.sink.Append(ctx, event); err != nil {
		return fmt.Errorf("append event %s: %w", msg.Headers["event_id"], err)
	}
	return nil
}

// Decode parses an outbox payload back into an audit event.
func Decode(value []byte) (audit.Event, error) {
	var p auditpg.Payload
	if err := json.Unmarshal(value, &p); err != nil {
		return audit.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Action == "" {
		return audit.Event{}, fmt.Errorf("decode payload: missing action")
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("decode payload timestamp: %w", err)
	}
	return audit.Event{
		Category:  audit.EventCategory(p.Category),
		Timestamp: ts,
		Subject:   p.Subject,
		Action:    p.Action,
		Number:    p.Number,
		ObjectID:  p.ObjectID,
		Reason:    p.Reason,
		RequestID: p.RequestID,
		ActorID:   p.ActorID,
	}, nil
}
