package storage

import (
	"context"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

func (t *sqlTx) EnqueueEvent(ctx context.Context, ev domain.OutboxEvent) error {
	_, err := t.exec(ctx, `
		INSERT INTO outbox (event_id, event_type, aggregate_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.AggregateID, string(ev.Payload), ev.CreatedAt,
	)
	if err != nil {
		return classify("enqueue event", err)
	}
	return nil
}

// FetchUnsent returns up to limit events that have not been published yet,
// oldest first.
func (s *SQLAdapter) FetchUnsent(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := s.query(ctx, `
		SELECT seq, event_id, event_type, aggregate_id, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY seq
		LIMIT ?`, limit)
	if err != nil {
		return nil, classify("query outbox", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var (
			ev      domain.OutboxEvent
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Type, &ev.AggregateID, &payload, &ev.CreatedAt); err != nil {
			return nil, classify("scan outbox event", err)
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate outbox", err)
	}
	return events, nil
}

func (s *SQLAdapter) MarkSent(ctx context.Context, seq int64, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE outbox SET sent_at = ? WHERE seq = ? AND sent_at IS NULL`, at, seq)
	if err != nil {
		return classify("mark event sent", err)
	}
	return nil
}
