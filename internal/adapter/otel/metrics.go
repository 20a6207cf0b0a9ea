package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flowboard"

// Metrics holds the flowboard metric instruments.
type Metrics struct {
	EventsIngested    metric.Int64Counter
	EventsIgnored     metric.Int64Counter
	EventsRejected    metric.Int64Counter
	EventsPending     metric.Int64UpDownCounter
	SnapshotsRecorded metric.Int64Counter
	SnapshotsNoop     metric.Int64Counter
	WIPViolations     metric.Int64Counter
	RecomputeDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsIngested, err = meter.Int64Counter("flowboard.events.ingested",
		metric.WithDescription("Card events stored and folded into state"))
	if err != nil {
		return nil, err
	}

	m.EventsIgnored, err = meter.Int64Counter("flowboard.events.ignored",
		metric.WithDescription("Card events stored but ignored by the state machine"))
	if err != nil {
		return nil, err
	}

	m.EventsRejected, err = meter.Int64Counter("flowboard.events.rejected",
		metric.WithDescription("Card events rejected by validation"))
	if err != nil {
		return nil, err
	}

	m.EventsPending, err = meter.Int64UpDownCounter("flowboard.events.pending",
		metric.WithDescription("Events buffered waiting for their card's created event"))
	if err != nil {
		return nil, err
	}

	m.SnapshotsRecorded, err = meter.Int64Counter("flowboard.snapshots.recorded",
		metric.WithDescription("Daily snapshots written with a new fingerprint"))
	if err != nil {
		return nil, err
	}

	m.SnapshotsNoop, err = meter.Int64Counter("flowboard.snapshots.noop",
		metric.WithDescription("Recomputations whose fingerprint matched the stored snapshot"))
	if err != nil {
		return nil, err
	}

	m.WIPViolations, err = meter.Int64Counter("flowboard.wip.violations",
		metric.WithDescription("WIP limit violations detected at snapshot time"))
	if err != nil {
		return nil, err
	}

	m.RecomputeDuration, err = meter.Float64Histogram("flowboard.recompute.duration_seconds",
		metric.WithDescription("Snapshot recomputation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func boardAttr(boardID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("board.id", boardID))
}

// RecordIngest counts one ingest result. A nil receiver records nothing.
func (m *Metrics) RecordIngest(ctx context.Context, boardID, outcome string) {
	if m == nil {
		return
	}
	switch outcome {
	case "applied":
		m.EventsIngested.Add(ctx, 1, boardAttr(boardID))
	case "rejected":
		m.EventsRejected.Add(ctx, 1, boardAttr(boardID))
	case "pending":
		m.EventsPending.Add(ctx, 1, boardAttr(boardID))
	case "duplicate":
	default:
		m.EventsIgnored.Add(ctx, 1, metric.WithAttributes(
			attribute.String("board.id", boardID), attribute.String("outcome", outcome)))
	}
}

// PendingReleased decrements the pending gauge by n.
func (m *Metrics) PendingReleased(ctx context.Context, boardID string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsPending.Add(ctx, int64(-n), boardAttr(boardID))
}

// RecordSnapshot counts one recomputation result.
func (m *Metrics) RecordSnapshot(ctx context.Context, boardID string, changed bool, violations int, seconds float64) {
	if m == nil {
		return
	}
	if changed {
		m.SnapshotsRecorded.Add(ctx, 1, boardAttr(boardID))
	} else {
		m.SnapshotsNoop.Add(ctx, 1, boardAttr(boardID))
	}
	if violations > 0 {
		m.WIPViolations.Add(ctx, int64(violations), boardAttr(boardID))
	}
	m.RecomputeDuration.Record(ctx, seconds, boardAttr(boardID))
}
