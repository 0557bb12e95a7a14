package database

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pavelchamgl/reli.one-sub000/pkg/database"

// QueryTracer wraps repository calls in client spans and warns about queries
// slower than SlowThreshold. The zero value traces without slow-query logs.
type QueryTracer struct {
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// NewQueryTracer returns a tracer that logs queries taking at least slow.
// A zero slow disables the warning.
func NewQueryTracer(slow time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{SlowThreshold: slow, Logger: logger}
}

// Trace starts a span for a database operation. Call the returned function
// with the operation's error when it completes:
//
//	ctx, end := t.Trace(ctx, "MarkSubmitted", stmt)
//	defer func() { end(err) }()
func (t *QueryTracer) Trace(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if t == nil || t.SlowThreshold <= 0 || t.Logger == nil {
			return
		}
		elapsed := time.Since(start)
		if elapsed < t.SlowThreshold {
			return
		}
		attrs := []any{
			slog.String("operation", operation),
			slog.String("statement", statement),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		t.Logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
