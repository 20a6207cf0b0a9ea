package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "flowboard"

// StartIngestSpan starts a span for ingesting a batch of card events.
func StartIngestSpan(ctx context.Context, boardID string, events int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("board.id", boardID),
			attribute.Int("events.count", events),
		),
	)
}

// StartRecomputeSpan starts a span for computing one daily snapshot.
func StartRecomputeSpan(ctx context.Context, boardID, date, trigger string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "recompute",
		trace.WithAttributes(
			attribute.String("board.id", boardID),
			attribute.String("snapshot.date", date),
			attribute.String("snapshot.trigger", trigger),
		),
	)
}

// StartQuerySpan starts a span for a read-side metrics query.
func StartQuerySpan(ctx context.Context, boardID, query string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "query."+query,
		trace.WithAttributes(attribute.String("board.id", boardID)),
	)
}
