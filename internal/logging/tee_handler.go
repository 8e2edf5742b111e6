package logging

import (
	"context"
	"log/slog"
)

// teeHandler duplicates records to the stderr handler and the journal
// handler. Each side keeps its own level check, so one destination being
// quieter never silences the other.
type teeHandler struct {
	stderr  slog.Handler
	journal slog.Handler
}

func newTeeHandler(stderr, journal slog.Handler) *teeHandler {
	return &teeHandler{stderr: stderr, journal: journal}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.stderr.Enabled(ctx, level) || t.journal.Enabled(ctx, level)
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range []slog.Handler{t.stderr, t.journal} {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		stderr:  t.stderr.WithAttrs(attrs),
		journal: t.journal.WithAttrs(attrs),
	}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		stderr:  t.stderr.WithGroup(name),
		journal: t.journal.WithGroup(name),
	}
}
