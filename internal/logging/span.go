package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one client operation and ties its log lines together.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartSpan derives a child span from ctx. The returned context carries a
// logger enriched with trace, span and operation attributes.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Nested spans enrich the logger the outermost span started from so
	// span attributes are never repeated.
	base, ok := ctx.Value(spanBaseKey).(*slog.Logger)
	if !ok || base == nil {
		base = FromContext(ctx)
		ctx = context.WithValue(ctx, spanBaseKey, base)
	}

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
	}
	logger := base.With(slog.String("trace_id", traceID))

	parentSpanID := SpanIDFromContext(ctx)
	parentOperation := OperationFromContext(ctx)
	spanID := uuid.NewString()

	logger = logger.With(
		slog.String("span_id", spanID),
		slog.String("operation", name),
	)
	if parentSpanID != "" {
		logger = logger.With(
			slog.String("parent_span_id", parentSpanID),
			slog.String("parent_operation", parentOperation),
		)
	}

	ctx = WithLogger(ctx, logger)
	ctx = WithSpanID(ctx, spanID)
	ctx = WithOperation(ctx, name)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// End emits a debug completion entry.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Debug("operation completed", slog.Duration("duration", time.Since(s.start)))
}

// EndErr emits a completion entry at warn level when err is non-nil.
func (s *Span) EndErr(err error) {
	if s == nil {
		return
	}
	if err == nil {
		s.End()
		return
	}
	s.logger.Warn("operation failed",
		slog.Duration("duration", time.Since(s.start)),
		slog.String("error", err.Error()),
	)
}
