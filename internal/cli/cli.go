// Package cli implements the kanon command line: anonymize, validate and
// serve.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"kanon/internal/platform/logger"
	dErrors "kanon/pkg/domain-errors"
)

// Exit statuses, stable for automation.
const (
	ExitPass     = 0
	ExitFail     = 1
	ExitConfig   = 2
	ExitInternal = 3
)

// errFailed marks a run whose outcome is FAIL without any other error.
var errFailed = errors.New("compliance check failed")

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return ExitPass
	case errors.Is(err, errFailed):
		return ExitFail
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeCompliance:
		return ExitFail
	case dErrors.CodeConfig, dErrors.CodeSchema, dErrors.CodeValidation, dErrors.CodeBadRequest:
		return ExitConfig
	default:
		return ExitInternal
	}
}

// Env is the process boundary the commands write to.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
}

// OSEnv returns the real process environment.
func OSEnv() Env {
	return Env{Stdout: os.Stdout, Stderr: os.Stderr, Getenv: os.Getenv}
}

const usage = `usage: kanon <command> [flags]

commands:
  anonymize  generalize and suppress a raw table into a k-anonymous release
  validate   certify one or more released snapshots
  serve      run the audit HTTP service
`

// Run executes args (without the program name) and returns the exit status.
func Run(ctx context.Context, args []string, env Env) int {
	if len(args) == 0 {
		fmt.Fprint(env.Stderr, usage)
		return ExitConfig
	}

	var err error
	switch args[0] {
	case "anonymize":
		err = runAnonymize(ctx, args[1:], env)
	case "validate":
		err = runValidate(ctx, args[1:], env)
	case "serve":
		err = runServe(ctx, args[1:], env)
	case "help", "-h", "--help":
		fmt.Fprint(env.Stdout, usage)
		return ExitPass
	default:
		fmt.Fprintf(env.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return ExitConfig
	}
	if err != nil && !errors.Is(err, errFailed) && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(env.Stderr, "kanon %s: %v\n", args[0], err)
	}
	return ExitCode(err)
}

// newFlagSet returns a flag set whose parse errors are reported as config
// errors.
func newFlagSet(name string, env Env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfig, "parse flags")
	}
	return nil
}

func newLogger(env Env, level, format string) (*slog.Logger, error) {
	return logger.New(env.Stderr, level, format)
}
