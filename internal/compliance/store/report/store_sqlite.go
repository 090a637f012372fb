package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kanon/internal/compliance/models"
	"kanon/pkg/platform/sentinel"
)

// timestamps are fixed-width UTC strings so they sort as text
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the CLI's local ledger. SQLite has no array or JSONB
// types, so every structured column is JSON text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Save(ctx context.Context, report *models.AuditReport) error {
	if report == nil {
		return sentinel.ErrInvalidInput
	}
	cols, err := encodeJSON(report.QuasiIdentifiers, report.Violations, nonNil(report.ForbiddenPresent), nonNil(report.RequiredMissing))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_reports (
			id, fingerprint, k, quasi_identifiers, total_records, class_count,
			min_class_size, violating_records, violations, forbidden_present,
			required_missing, passed, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		report.ID.String(),
		report.Fingerprint,
		report.K,
		cols[0],
		report.TotalRecords,
		report.ClassCount,
		report.MinClassSize,
		report.ViolatingRecords,
		cols[1],
		cols[2],
		cols[3],
		report.Passed,
		report.CreatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("insert audit report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert audit report: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, id uuid.UUID) (*models.AuditReport, error) {
	row := s.db.QueryRowContext(ctx, selectReports+`WHERE id = ?`, id.String())
	rep, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find audit report: %w", err)
	}
	return rep, nil
}

func (s *SQLiteStore) ListByFingerprint(ctx context.Context, fingerprint string) ([]*models.AuditReport, error) {
	rows, err := s.db.QueryContext(ctx, selectReports+`WHERE fingerprint = ? ORDER BY created_at DESC`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("query audit reports: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditReport
	for rows.Next() {
		rep, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit report: %w", err)
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit reports: %w", err)
	}
	return out, nil
}

func scanSQLite(row scanner) (*models.AuditReport, error) {
	var (
		rep                                     models.AuditReport
		id, createdAt                           string
		qis, violations, forbidden, requiredCol string
	)
	err := row.Scan(
		&id,
		&rep.Fingerprint,
		&rep.K,
		&qis,
		&rep.TotalRecords,
		&rep.ClassCount,
		&rep.MinClassSize,
		&rep.ViolatingRecords,
		&violations,
		&forbidden,
		&requiredCol,
		&rep.Passed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if rep.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("decode id: %w", err)
	}
	if rep.CreatedAt, err = time.Parse(sqliteTime, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	targets := []struct {
		raw string
		dst any
	}{
		{qis, &rep.QuasiIdentifiers},
		{violations, &rep.Violations},
		{forbidden, &rep.ForbiddenPresent},
		{requiredCol, &rep.RequiredMissing},
	}
	for _, t := range targets {
		if err := json.Unmarshal([]byte(t.raw), t.dst); err != nil {
			return nil, fmt.Errorf("decode report column: %w", err)
		}
	}
	return &rep, nil
}

func encodeJSON(values ...any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode report column: %w", err)
		}
		out[i] = string(b)
	}
	return out, nil
}
