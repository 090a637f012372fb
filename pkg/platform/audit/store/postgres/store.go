package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "kanon/pkg/platform/audit"
	txcontext "kanon/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. Writes join the
// caller's transaction when one is carried in the context, so a report and
// the event recording it commit together.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts an audit event, assigning an ID when it has none.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return s.AppendWithID(ctx, event.ID, event)
}

// AppendWithID inserts an audit event with a specific ID. Used by the Kafka
// materializer; duplicate deliveries are ignored via ON CONFLICT DO NOTHING.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, run_id, action, fingerprint,
			decision, reason, k, records, suppressed, request_id, actor_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		eventID,
		string(category),
		event.Timestamp,
		event.RunID,
		event.Action,
		event.Fingerprint,
		event.Decision,
		event.Reason,
		event.K,
		event.Records,
		event.Suppressed,
		event.RequestID,
		event.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, category, timestamp, run_id, action, fingerprint,
		   decision, reason, k, records, suppressed, request_id, actor_id
	FROM audit_events
`

// ListByRun returns the events of one run, oldest first.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`WHERE run_id = $1 ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
		)
		err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&event.RunID,
			&event.Action,
			&event.Fingerprint,
			&event.Decision,
			&event.Reason,
			&event.K,
			&event.Records,
			&event.Suppressed,
			&event.RequestID,
			&event.ActorID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
