package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	compService "kanon/internal/compliance/service"
	"kanon/internal/compliance/store/report"
	"kanon/internal/dataset"
	"kanon/internal/platform/database"
	dErrors "kanon/pkg/domain-errors"
	audit "kanon/pkg/platform/audit"
	compliancePublisher "kanon/pkg/platform/audit/publishers/compliance"
	auditmemory "kanon/pkg/platform/audit/store/memory"
	auditsqlite "kanon/pkg/platform/audit/store/sqlite"
)

func readDataset(path string, codec dataset.Codec) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfig, "open input")
	}
	defer f.Close()
	return codec.Read(f)
}

// stagedFile is output written to a temporary file beside its target. Nothing
// is visible at the target until commit.
type stagedFile struct {
	tmp, path string
}

func stageFile(path string, write func(f *os.File) error) (*stagedFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create output")
	}
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "close output")
	}
	return &stagedFile{tmp: tmp.Name(), path: path}, nil
}

func (s *stagedFile) discard() {
	if s != nil {
		_ = os.Remove(s.tmp)
	}
}

// commitFiles renames staged files into place in order. When a rename fails,
// files already committed are removed and the rest discarded, so either every
// target appears or none does.
func commitFiles(files ...*stagedFile) error {
	for i, f := range files {
		if err := os.Rename(f.tmp, f.path); err != nil {
			for _, done := range files[:i] {
				_ = os.Remove(done.path)
			}
			for _, rest := range files[i:] {
				rest.discard()
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "publish output")
		}
	}
	return nil
}

// ledger is where the CLI keeps reports and audit events: a SQLite file when
// -ledger is set, otherwise process memory. Without a ledger the audit log
// lines are the only trail that outlives the process.
type ledger struct {
	reports compService.ReportStore
	events  audit.Store
	close   func() error
}

func openLedger(ctx context.Context, path string) (*ledger, error) {
	if path == "" {
		return &ledger{
			reports: report.NewInMemoryStore(),
			events:  auditmemory.NewInMemoryStore(),
			close:   func() error { return nil },
		}, nil
	}
	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, URL: path})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "open ledger")
	}
	if err := database.Migrate(ctx, db, database.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "migrate ledger")
	}
	return &ledger{
		reports: report.NewSQLite(db),
		events:  auditsqlite.New(db),
		close:   db.Close,
	}, nil
}

func (l *ledger) publisher(logger *slog.Logger) *compliancePublisher.Publisher {
	return compliancePublisher.New(l.events, compliancePublisher.WithLogger(logger))
}

// newCertifier builds the compliance service the CLI certifies snapshots
// with.
func newCertifier(l *ledger, codec dataset.Codec, logger *slog.Logger) (*compService.Service, error) {
	return compService.New(l.reports,
		compService.WithAuditPublisher(l.publisher(logger)),
		compService.WithCodec(codec),
		compService.WithLogger(logger),
	)
}
