package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/domain/flow"
	"github.com/Strob0t/flowboard/internal/port/broadcast"
	"github.com/Strob0t/flowboard/internal/port/messagequeue"
	"github.com/Strob0t/flowboard/internal/resilience"
)

// FlowNotifier fans committed snapshot changes and card updates out to the
// message queue and to dashboard clients. Both sinks are optional. Delivery
// is best effort: failures are logged and never fail the write that caused them.
type FlowNotifier struct {
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	breaker *resilience.Breaker
}

// NewFlowNotifier creates a notifier. queue, hub and breaker may be nil.
func NewFlowNotifier(queue messagequeue.Queue, hub broadcast.Broadcaster, breaker *resilience.Breaker) *FlowNotifier {
	return &FlowNotifier{queue: queue, hub: hub, breaker: breaker}
}

// SnapshotRecorded announces a snapshot whose stored row changed, along
// with the WIP violations it implies under the current limits.
func (n *FlowNotifier) SnapshotRecorded(ctx context.Context, snap *flow.DailySnapshot, trigger string, violations []flow.WipViolation) {
	if n == nil {
		return
	}
	payload := messagequeue.SnapshotRecordedPayload{
		BoardID:        snap.BoardID,
		Date:           snap.Date.String(),
		Fingerprint:    snap.Fingerprint,
		CardsCompleted: snap.CardsCompleted,
		TotalWIP:       snap.TotalWIP,
		PerColumn:      snap.PerColumnCounts,
		Trigger:        trigger,
	}
	n.publish(ctx, messagequeue.SubjectSnapshotsRecorded, payload)
	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, snap.BoardID, broadcast.EventSnapshotRecorded, snap)
	}

	for i := range violations {
		v := &violations[i]
		n.publish(ctx, messagequeue.SubjectWIPViolations, messagequeue.WIPViolationPayload{
			BoardID:    snap.BoardID,
			Date:       v.Date.String(),
			ColumnID:   v.ColumnID,
			ColumnName: v.ColumnName,
			Count:      v.Count,
			Limit:      v.Limit,
		})
		if n.hub != nil {
			n.hub.BroadcastEvent(ctx, snap.BoardID, broadcast.EventWIPViolation, v)
		}
	}
}

// CardUpdated pushes a card's new live state to dashboard clients.
func (n *FlowNotifier) CardUpdated(ctx context.Context, st *card.State) {
	if n == nil || n.hub == nil || st == nil {
		return
	}
	n.hub.BroadcastEvent(ctx, st.BoardID, broadcast.EventCardUpdated, st)
}

func (n *FlowNotifier) publish(ctx context.Context, subject string, payload any) {
	if n.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal notification", "subject", subject, "error", err)
		return
	}
	send := func() error { return n.queue.Publish(ctx, subject, data) }
	if n.breaker != nil {
		err = n.breaker.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		slog.Warn("notification publish failed", "subject", subject, "error", err)
	}
}
