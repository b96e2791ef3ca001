package writer

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
)

// multiHandler fans records out to every handler
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		// A failing file handler must not silence stdout
		errs = errors.CombineErrors(errs, handler.Handle(ctx, r.Clone()))
	}
	return errs
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// SetupLogger creates a logger writing text to stdout and JSON lines to the
// job's session.log. The caller closes the returned file.
func SetupLogger(dir *JobDir, level slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(dir.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open session log")
	}

	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	jsonHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})

	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{textHandler, jsonHandler},
	})
	return logger.With("job_id", dir.Name()), logFile, nil
}
