// Package tracelog builds the gemini_command debug trace: a slog logger
// that mirrors to stderr when debugging is switched on and writes JSON
// lines to a size-rotated file when a log file is configured. With
// neither, every record is discarded.
package tracelog

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/nugget/linebot-mcp/internal/config"
)

// Options configures New.
type Options struct {
	// Debug mirrors trace records to Stderr.
	Debug  bool
	Stderr io.Writer

	File     string
	MaxBytes int64
	Backups  int
}

// FromConfig maps the debug config section onto Options.
func FromConfig(c config.DebugConfig, stderr io.Writer) Options {
	return Options{
		Debug:    c.GeminiCommand,
		Stderr:   stderr,
		File:     c.LogFile,
		MaxBytes: c.LogMaxBytes,
		Backups:  c.LogBackups,
	}
}

// New returns the trace logger and a closer for its file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var handlers []slog.Handler
	var closer io.Closer = nopCloser{}

	if opts.Debug && opts.Stderr != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Stderr, &slog.HandlerOptions{
			Level:       config.LevelTrace,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}
	if opts.File != "" {
		rf, err := OpenRotating(opts.File, opts.MaxBytes, opts.Backups)
		if err != nil {
			return nil, nil, err
		}
		closer = rf
		handlers = append(handlers, slog.NewJSONHandler(rf, &slog.HandlerOptions{
			Level:       config.LevelTrace,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.DiscardHandler
	case 1:
		h = handlers[0]
	default:
		h = fanout(handlers)
	}

	logger := slog.New(h).With("component", "gemini_command")
	if len(handlers) > 0 {
		logger.Info("trace enabled",
			"file", opts.File,
			"max_bytes", opts.MaxBytes,
			"backups", opts.Backups,
			"stderr", opts.Debug,
		)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout dispatches each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
