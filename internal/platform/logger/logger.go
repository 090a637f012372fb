package logger

import (
	"io"
	"log/slog"
	"strings"

	dErrors "kanon/pkg/domain-errors"
)

// New returns a structured logger writing JSON or text at the given level.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, dErrors.Newf(dErrors.CodeConfig, "unknown log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, dErrors.Newf(dErrors.CodeConfig, "unknown log format %q", format)
	}
}
