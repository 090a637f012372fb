package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: every
	// release and every certification of a dataset. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for operational visibility.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	// Anonymization events
	EventDatasetReleased     AuditEvent = "dataset_released"
	EventAnonymizationFailed AuditEvent = "anonymization_failed"

	// Compliance audit events
	EventAuditPassed AuditEvent = "audit_passed"
	EventAuditFailed AuditEvent = "audit_failed"

	// Profile events
	EventProfileReloaded AuditEvent = "profile_reloaded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventDatasetReleased:     CategoryCompliance,
	EventAnonymizationFailed: CategoryCompliance,
	EventAuditPassed:         CategoryCompliance,
	EventAuditFailed:         CategoryCompliance,

	EventProfileReloaded: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is the stored form of an audit record. Keep it transport-agnostic so
// stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	// RunID ties the event to the anonymization run or audit that produced it.
	RunID       string
	Action      string
	Fingerprint string // BLAKE2b digest of the dataset snapshot concerned
	Decision    string // PASS / FAIL
	Reason      string
	K           int
	Records     int
	Suppressed  int
	RequestID   string
	ActorID     string
}

// ComplianceEvent captures a release or certification that requires
// guaranteed persistence. Use with the compliance publisher for fail-closed
// semantics.
type ComplianceEvent struct {
	Timestamp   time.Time // set automatically if zero
	RunID       string    // required
	Action      AuditEvent
	Fingerprint string
	Decision    string
	Reason      string
	K           int
	Records     int
	Suppressed  int
	RequestID   string
	ActorID     string
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent converts to the stored Event form.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:    CategoryCompliance,
		Timestamp:   e.Timestamp,
		RunID:       e.RunID,
		Action:      string(e.Action),
		Fingerprint: e.Fingerprint,
		Decision:    e.Decision,
		Reason:      e.Reason,
		K:           e.K,
		Records:     e.Records,
		Suppressed:  e.Suppressed,
		RequestID:   e.RequestID,
		ActorID:     e.ActorID,
	}
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Reader lists stored audit events.
type Reader interface {
	ListByRun(ctx context.Context, runID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
