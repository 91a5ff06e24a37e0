// Package logger carries a [slog.Logger] through a [context.Context], so
// that every broker, scheme, and stream in this module can log with the
// right correlation attributes (broker_id, scheme_id, stream_id) without
// threading a logger through every function signature.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// InContext returns a copy of ctx carrying l, retrievable with [FromContext].
func InContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the logger carried by ctx, or [slog.Default] if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxLoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithBroker returns ctx's logger annotated with a broker's scheme and broker IDs.
func WithBroker(ctx context.Context, schemeID, brokerID uint64) *slog.Logger {
	return FromContext(ctx).With(slog.Uint64("scheme_id", schemeID), slog.Uint64("broker_id", brokerID))
}

// Fatal logs msg at error level and exits the process with status 1.
func Fatal(ctx context.Context, msg string, attrs ...slog.Attr) {
	fatalErrorCtx(ctx, msg, nil, attrs...)
}

// FatalError logs msg and err at error level and exits the process with status 1.
func FatalError(msg string, err error, attrs ...slog.Attr) {
	fatalErrorCtx(context.Background(), msg, err, attrs...)
}

func fatalErrorCtx(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // Discard wrapper frames (Callers, fatalErrorCtx, Fatal*).

	r := slog.NewRecord(time.Now(), slog.LevelError, msg, pcs[0])
	if err != nil {
		r.AddAttrs(slog.Any("error", err))
	}
	r.AddAttrs(attrs...)

	_ = FromContext(ctx).Handler().Handle(ctx, r)
	os.Exit(1)
}
