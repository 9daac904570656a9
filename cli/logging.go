package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/richinex/markov/internal/errs"
)

// NewLogger builds the process logger from the log settings.
// level is one of debug, info, warn, error; format is text or json.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errs.Errorf(errs.CodeConfigInvalid, "invalid log level %q: %w", level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, errs.Errorf(errs.CodeConfigInvalid, "invalid log format %q", format)
	}
}
