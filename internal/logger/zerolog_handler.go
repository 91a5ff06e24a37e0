package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
)

// zerologHandler adapts a [zerolog.Logger] to the [slog.Handler]
// interface, so the rest of this module can log exclusively through
// log/slog while the process-wide sink and its console/JSON formatting
// is zerolog, per the teacher's convention of fronting structured
// logging libraries with their own small adapters (pkg/temporal's
// LogAdapter does the same translation in the other direction, for
// Temporal's logger interface).
type zerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	groups []string
}

// NewZerologHandler builds a slog.Handler backed by a zerolog console
// writer when w is a terminal, or raw JSON otherwise. level sets the
// minimum slog level passed through to zerolog.
func NewZerologHandler(w *os.File, level slog.Level) slog.Handler {
	var writer zerolog.ConsoleWriter
	zl := zerolog.New(w).With().Timestamp().Logger().Level(slogLevelToZerolog(level))
	if isTerminal(w) {
		writer = zerolog.ConsoleWriter{Out: w}
		zl = zerolog.New(writer).With().Timestamp().Logger().Level(slogLevelToZerolog(level))
	}
	return &zerologHandler{logger: zl}
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= slogLevelToZerolog(level)
}

func (h *zerologHandler) Handle(_ context.Context, r slog.Record) error {
	evt := h.logger.WithLevel(slogLevelToZerolog(r.Level))
	if evt == nil {
		return nil
	}

	for _, a := range h.attrs {
		evt = addAttr(evt, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = addAttr(evt, h.groupPrefix(), a)
		return true
	})

	evt.Msg(r.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]slog.Attr{}, h.attrs...)
	// Attrs are qualified by the groups open at the time they are added,
	// not by groups opened later.
	prefix := h.groupPrefix()
	for _, a := range attrs {
		a.Key = prefix + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *zerologHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	prefix := h.groups[0]
	for _, g := range h.groups[1:] {
		prefix += "." + g
	}
	return prefix + "."
}

func addAttr(evt *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	if a.Equal(slog.Attr{}) {
		return evt
	}
	key := prefix + a.Key
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return evt.Str(key, v.String())
	case slog.KindInt64:
		return evt.Int64(key, v.Int64())
	case slog.KindUint64:
		return evt.Uint64(key, v.Uint64())
	case slog.KindBool:
		return evt.Bool(key, v.Bool())
	case slog.KindDuration:
		return evt.Dur(key, v.Duration())
	case slog.KindTime:
		return evt.Time(key, v.Time())
	case slog.KindFloat64:
		return evt.Float64(key, v.Float64())
	default:
		return evt.Any(key, v.Any())
	}
}

func slogLevelToZerolog(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
