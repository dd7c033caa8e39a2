package port

import (
	"context"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.OutboxEvent) error
	Close() error
}
