package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

const (
	kitchenQueue      = "kitchen.orders"
	kitchenBindingKey = "order.#"
)

// RabbitPublisher publishes outbox events to a durable topic exchange with
// the event type as routing key and waits for the broker confirm.
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // confirms arrive in publish order, so publishes are serialized
}

var _ port.EventPublisher = (*RabbitPublisher)(nil)

func DialRabbit(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareKitchen(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &RabbitPublisher{conn: conn, ch: ch, exchange: exchange, acks: acks}, nil
}

func declareKitchen(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(kitchenQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", kitchenQueue, err)
	}
	if err := ch.QueueBind(kitchenQueue, kitchenBindingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", kitchenQueue, err)
	}
	return nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev domain.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, toPublishing(ev)); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	select {
	case conf, ok := <-p.acks:
		if !ok {
			return errors.New("rabbitmq channel closed before confirm")
		}
		if !conf.Ack {
			return fmt.Errorf("publish %s: nack from broker", ev.Type)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toPublishing(ev domain.OutboxEvent) amqp.Publishing {
	return amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     ev.ID,
		CorrelationId: ev.AggregateID,
		Type:          ev.Type,
		Timestamp:     ev.CreatedAt,
		Headers: amqp.Table{
			"x-source": "pos-checkout",
		},
		Body: ev.Payload,
	}
}

func (p *RabbitPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
