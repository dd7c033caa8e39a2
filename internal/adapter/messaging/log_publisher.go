package messaging

import (
	"context"
	"log/slog"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

// LogPublisher only logs events. It stands in when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

var _ port.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With("component", "publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, ev domain.OutboxEvent) error {
	p.log.InfoContext(ctx, "event published", "action", "publish",
		"event_id", ev.ID, "event_type", ev.Type, "aggregate_id", ev.AggregateID)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
