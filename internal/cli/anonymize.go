package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	anonService "kanon/internal/anonymization/service"
	"kanon/internal/dataset"
	"kanon/internal/platform/config"
	dErrors "kanon/pkg/domain-errors"
	"kanon/pkg/requestcontext"
)

func runAnonymize(ctx context.Context, args []string, env Env) error {
	fs := newFlagSet("anonymize", env)
	profilePath := fs.String("profile", "", "audit profile (YAML)")
	in := fs.String("in", "", "raw input table")
	out := fs.String("out", "", "released table")
	reportPath := fs.String("report", "", "compliance report (JSON); defaults to <out>.report.json")
	ledger := fs.String("ledger", "", "SQLite ledger to certify the release into")
	logLevel := fs.String("log-level", "warn", "log level")
	logFormat := fs.String("log-format", "text", "log format (json or text)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *profilePath == "" || *in == "" || *out == "" {
		return dErrors.New(dErrors.CodeConfig, "-profile, -in and -out are required")
	}
	if *reportPath == "" {
		*reportPath = *out + ".report.json"
	}

	logger, err := newLogger(env, *logLevel, *logFormat)
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(*profilePath)
	if err != nil {
		return err
	}
	codec, err := profile.Codec()
	if err != nil {
		return err
	}
	cfg, err := profile.AnonymizationConfig()
	if err != nil {
		return err
	}
	ds, err := readDataset(*in, codec)
	if err != nil {
		return err
	}

	led, err := openLedger(ctx, *ledger)
	if err != nil {
		return err
	}
	defer led.close()

	ctx = requestcontext.WithActorID(ctx, actor(env))
	svc := anonService.New(
		anonService.WithLogger(logger),
		anonService.WithAuditPublisher(led.publisher(logger)),
		anonService.WithCodec(codec),
	)
	release, err := svc.Anonymize(ctx, ds, cfg)
	if err != nil {
		return err
	}

	data, err := stageFile(*out, func(f *os.File) error {
		if err := codec.Write(f, release.Dataset); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write release")
		}
		return nil
	})
	if err != nil {
		return err
	}
	rep, err := stageFile(*reportPath, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(release.Report); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write report")
		}
		return nil
	})
	if err != nil {
		data.discard()
		return err
	}
	if err := commitFiles(rep, data); err != nil {
		return err
	}

	summary := release.Report
	fmt.Fprintf(env.Stdout, "%s run=%s released=%d/%d suppressed=%d min_class=%d fingerprint=%s\n",
		summary.Status(), summary.RunID, summary.ReleasedRecords, summary.TotalRecords, summary.SuppressedCount, summary.MinClassSize, summary.Fingerprint)

	if *ledger == "" {
		return nil
	}
	return certifyRelease(ctx, led, *ledger, profile, release.Dataset, env, logger)
}

// certifyRelease records an independent audit of the release in the ledger.
func certifyRelease(ctx context.Context, led *ledger, path string, profile *config.Profile, release *dataset.Dataset, env Env, logger *slog.Logger) error {
	codec, err := profile.Codec()
	if err != nil {
		return err
	}
	certifier, err := newCertifier(led, codec, logger)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build certifier")
	}
	rep, err := certifier.Audit(ctx, release, profile.AuditRequest())
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "certified %s report=%s ledger=%s\n", rep.Status(), rep.ID, path)
	for _, issue := range rep.Issues() {
		fmt.Fprintf(env.Stdout, "  - %s\n", issue)
	}
	if !rep.Passed {
		return errFailed
	}
	return nil
}

func actor(env Env) string {
	if u := env.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
