package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"kanon/internal/compliance/models"
	"kanon/internal/dataset"
	"kanon/internal/platform/config"
	dErrors "kanon/pkg/domain-errors"
	pstrings "kanon/pkg/platform/strings"
	"kanon/pkg/requestcontext"
)

type fileResult struct {
	File   string              `json:"file"`
	Report *models.AuditReport `json:"report,omitempty"`
	Error  string              `json:"error,omitempty"`
	err    error
}

func runValidate(ctx context.Context, args []string, env Env) error {
	fs := newFlagSet("validate", env)
	profilePath := fs.String("profile", "", "audit profile (YAML) supplying defaults and the CSV dialect")
	k := fs.Int("k", 0, "minimum class size; overrides the profile")
	qi := fs.String("qi", "", "comma-separated quasi-identifier columns; overrides the profile")
	forbidden := fs.String("forbidden", "", "comma-separated columns that must be absent; overrides the profile")
	required := fs.String("required", "", "comma-separated columns that must be present; overrides the profile")
	delimiter := fs.String("delimiter", "", "field delimiter when no profile is given")
	ledger := fs.String("ledger", "", "SQLite ledger to record reports in")
	parallel := fs.Int("parallel", runtime.GOMAXPROCS(0), "files audited concurrently")
	asJSON := fs.Bool("json", false, "print reports as JSON")
	logLevel := fs.String("log-level", "warn", "log level")
	logFormat := fs.String("log-format", "text", "log format (json or text)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return dErrors.New(dErrors.CodeConfig, "at least one snapshot file is required")
	}

	logger, err := newLogger(env, *logLevel, *logFormat)
	if err != nil {
		return err
	}

	var (
		req   models.AuditRequest
		codec dataset.Codec
	)
	if *profilePath != "" {
		profile, err := config.LoadProfile(*profilePath)
		if err != nil {
			return err
		}
		if codec, err = profile.Codec(); err != nil {
			return err
		}
		req = profile.AuditRequest()
	} else if *delimiter != "" {
		p := config.Profile{Dataset: config.DatasetProfile{Delimiter: *delimiter}}
		if codec, err = p.Codec(); err != nil {
			return err
		}
	}
	if *k != 0 {
		req.K = *k
	}
	if *qi != "" {
		req.QuasiIdentifiers = splitFlag(*qi)
	}
	if *forbidden != "" {
		req.Forbidden = splitFlag(*forbidden)
	}
	if *required != "" {
		req.Required = splitFlag(*required)
	}
	if err := req.Normalize().Validate(); err != nil {
		return err
	}

	led, err := openLedger(ctx, *ledger)
	if err != nil {
		return err
	}
	defer led.close()
	certifier, err := newCertifier(led, codec, logger)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build certifier")
	}

	ctx = requestcontext.WithActorID(ctx, actor(env))
	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*parallel, 1))
	for i, file := range files {
		g.Go(func() error {
			results[i] = fileResult{File: file}
			ds, err := readDataset(file, codec)
			if err == nil {
				results[i].Report, err = certifier.Audit(gctx, ds, req)
			}
			if err != nil {
				results[i].err = err
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	if *asJSON {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write results")
		}
	} else {
		printResults(env, results)
	}
	return worst(results)
}

func printResults(env Env, results []fileResult) {
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(env.Stdout, "%s: ERROR %v\n", r.File, r.err)
			continue
		}
		rep := r.Report
		fmt.Fprintf(env.Stdout, "%s: %s k=%d records=%d classes=%d min_class=%d report=%s\n",
			r.File, rep.Status(), rep.K, rep.TotalRecords, rep.ClassCount, rep.MinClassSize, rep.ID)
		for _, issue := range rep.Issues() {
			fmt.Fprintf(env.Stdout, "  - %s\n", issue)
		}
	}
}

// worst picks the error with the most severe exit status across files.
func worst(results []fileResult) error {
	var out error
	for _, r := range results {
		err := r.err
		if err == nil && !r.Report.Passed {
			err = errFailed
		}
		if err != nil && (out == nil || ExitCode(err) > ExitCode(out)) {
			out = err
		}
	}
	return out
}

func splitFlag(s string) []string {
	return pstrings.DedupeAndTrim(strings.Split(s, ","))
}
