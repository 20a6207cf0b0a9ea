package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/flowboard/internal/domain"
	"github.com/Strob0t/flowboard/internal/domain/card"
	"github.com/Strob0t/flowboard/internal/port/messagequeue"
)

// HandleCardEvents is the messagequeue.Handler for cards.events. Messages
// may mix boards; each board's events are ingested as one batch in message
// order. Storage failures are returned so the queue redelivers; events for
// unknown boards or invalid payloads are logged and acknowledged.
func (t *TrackerService) HandleCardEvents(ctx context.Context, _ string, data []byte) error {
	payloads, err := messagequeue.DecodeCardEvents(data)
	if err != nil {
		return err
	}

	var order []string
	byBoard := make(map[string][]card.Event)
	for i := range payloads {
		ev := eventFromPayload(&payloads[i])
		if _, ok := byBoard[ev.BoardID]; !ok {
			order = append(order, ev.BoardID)
		}
		byBoard[ev.BoardID] = append(byBoard[ev.BoardID], ev)
	}

	var errs []error
	for _, boardID := range order {
		events := byBoard[boardID]
		if boardID == "" {
			slog.Warn("dropping card events without board_id", "count", len(events))
			continue
		}
		summary, err := t.Ingest(ctx, boardID, events)
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
			slog.Warn("dropping card events", "board_id", boardID, "count", len(events), "error", err)
		case err != nil:
			errs = append(errs, fmt.Errorf("ingest %s: %w", boardID, err))
		case summary.Rejected > 0:
			slog.Warn("card events rejected", "board_id", boardID, "rejected", summary.Rejected)
		}
	}
	return errors.Join(errs...)
}

func eventFromPayload(p *messagequeue.CardEventPayload) card.Event {
	return card.Event{
		ID:            p.ID,
		CardID:        p.CardID,
		BoardID:       p.BoardID,
		Type:          card.EventType(p.Type),
		FromColumn:    p.FromColumn,
		ToColumn:      p.ToColumn,
		OccurredAt:    p.OccurredAt,
		BlockedReason: p.BlockedReason,
	}
}
