package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "kanon/pkg/platform/audit"
)

// payload is the JSON structure published to Kafka. The record key carries
// the event ID.
type payload struct {
	Category    string `json:"category"`
	Timestamp   string `json:"timestamp"`
	RunID       string `json:"run_id"`
	Action      string `json:"action"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Reason      string `json:"reason,omitempty"`
	K           int    `json:"k,omitempty"`
	Records     int    `json:"records"`
	Suppressed  int    `json:"suppressed"`
	RequestID   string `json:"request_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
}

func encode(event audit.Event) (key, value []byte, err error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	value, err = json.Marshal(payload{
		Category:    string(category),
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
		RunID:       event.RunID,
		Action:      event.Action,
		Fingerprint: event.Fingerprint,
		Decision:    event.Decision,
		Reason:      event.Reason,
		K:           event.K,
		Records:     event.Records,
		Suppressed:  event.Suppressed,
		RequestID:   event.RequestID,
		ActorID:     event.ActorID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return []byte(event.ID.String()), value, nil
}

func decode(key, value []byte) (audit.Event, error) {
	eventID, err := uuid.ParseBytes(key)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse audit event id %q: %w", key, err)
	}
	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return audit.Event{
		ID:          eventID,
		Category:    audit.EventCategory(p.Category),
		Timestamp:   ts,
		RunID:       p.RunID,
		Action:      p.Action,
		Fingerprint: p.Fingerprint,
		Decision:    p.Decision,
		Reason:      p.Reason,
		K:           p.K,
		Records:     p.Records,
		Suppressed:  p.Suppressed,
		RequestID:   p.RequestID,
		ActorID:     p.ActorID,
	}, nil
}
