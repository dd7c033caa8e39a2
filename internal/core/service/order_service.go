package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

var ErrOrderNotCompleted = fmt.Errorf("%w: only completed orders can be purged", domain.ErrInvalidRequest)

// OrderService is the admin side of the order queue.
type OrderService struct {
	store port.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewOrderService(store port.Store, log *slog.Logger) *OrderService {
	return &OrderService{
		store: store,
		log:   log.With("component", "orders"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListPending returns pending orders oldest first.
func (s *OrderService) ListPending(ctx context.Context) ([]domain.Order, error) {
	return s.store.ListPendingOrders(ctx)
}

func (s *OrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *OrderService) GetLineItems(ctx context.Context, id string) ([]domain.OrderLine, error) {
	return s.store.GetOrderLines(ctx, id)
}

// Complete moves a pending order to completed. Completing an order twice is
// not an error; the second call changes nothing and emits no event.
func (s *OrderService) Complete(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	changed := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusCompleted {
			return nil
		}

		at := s.now()
		if err := tx.MarkOrderCompleted(ctx, id, at); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCompleted
		order.CompletedAt = &at
		changed = true

		ev, err := newEvent(domain.EventOrderCompleted, id, order, at)
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, ev)
	})
	if err != nil {
		return domain.Order{}, err
	}

	if changed {
		s.log.Info("order completed", "action", "complete_order", "order_id", id)
	}
	return order, nil
}

// Purge hard-deletes a completed order and its lines.
func (s *OrderService) Purge(ctx context.Context, id string) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusCompleted {
			return ErrOrderNotCompleted
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("order purged", "action", "purge_order", "order_id", id)
	return nil
}
