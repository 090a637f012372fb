package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kanon/internal/compliance/models"
	"kanon/pkg/platform/sentinel"
	txcontext "kanon/pkg/platform/tx"
)

// PostgresStore persists reports in the audit_reports table. Column lists
// are text[] columns; class violations are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, report *models.AuditReport) error {
	if report == nil {
		return sentinel.ErrInvalidInput
	}
	violations, err := json.Marshal(report.Violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	query := `
		INSERT INTO audit_reports (
			id, fingerprint, k, quasi_identifiers, total_records, class_count,
			min_class_size, violating_records, violations, forbidden_present,
			required_missing, passed, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		report.ID,
		report.Fingerprint,
		report.K,
		pq.Array(report.QuasiIdentifiers),
		report.TotalRecords,
		report.ClassCount,
		report.MinClassSize,
		report.ViolatingRecords,
		violations,
		pq.Array(nonNil(report.ForbiddenPresent)),
		pq.Array(nonNil(report.RequiredMissing)),
		report.Passed,
		report.CreatedAt,
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

const selectReports = `
	SELECT id, fingerprint, k, quasi_identifiers, total_records, class_count,
		   min_class_size, violating_records, violations, forbidden_present,
		   required_missing, passed, created_at
	FROM audit_reports
`

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.AuditReport, error) {
	row := s.db.QueryRowContext(ctx, selectReports+`WHERE id = $1`, id)
	rep, err := scanPostgres(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find audit report: %w", err)
	}
	return rep, nil
}

func (s *PostgresStore) ListByFingerprint(ctx context.Context, fingerprint string) ([]*models.AuditReport, error) {
	rows, err := s.db.QueryContext(ctx, selectReports+`WHERE fingerprint = $1 ORDER BY created_at DESC`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("query audit reports: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditReport
	for rows.Next() {
		rep, err := scanPostgres(rows)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanPostgres(row scanner) (*models.AuditReport, error) {
	var (
		rep        models.AuditReport
		violations []byte
	)
	err := row.Scan(
		&rep.ID,
		&rep.Fingerprint,
		&rep.K,
		pq.Array(&rep.QuasiIdentifiers),
		&rep.TotalRecords,
		&rep.ClassCount,
		&rep.MinClassSize,
		&rep.ViolatingRecords,
		&violations,
		pq.Array(&rep.ForbiddenPresent),
		pq.Array(&rep.RequiredMissing),
		&rep.Passed,
		&rep.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(violations, &rep.Violations); err != nil {
		return nil, fmt.Errorf("decode violations: %w", err)
	}
	rep.ForbiddenPresent = nonNil(rep.ForbiddenPresent)
	rep.RequiredMissing = nonNil(rep.RequiredMissing)
	return &rep, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
