package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "kanon/pkg/platform/audit"
	txcontext "kanon/pkg/platform/tx"
)

// timestamps are fixed-width UTC strings so they sort as text
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements audit.Store on the audit_events table of the CLI ledger.
type Store struct {
	db *sql.DB
}

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
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, run_id, action, fingerprint,
			decision, reason, k, records, suppressed, request_id, actor_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID.String(),
		string(category),
		event.Timestamp.UTC().Format(sqliteTime),
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
	rows, err := s.db.QueryContext(ctx, selectEvents+`WHERE run_id = ? ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`ORDER BY timestamp DESC LIMIT ?`, limit)
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
			event        audit.Event
			id, category string
			timestamp    string
		)
		err := rows.Scan(
			&id,
			&category,
			&timestamp,
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
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("decode event id: %w", err)
		}
		if event.Timestamp, err = time.Parse(sqliteTime, timestamp); err != nil {
			return nil, fmt.Errorf("decode event timestamp: %w", err)
		}
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
