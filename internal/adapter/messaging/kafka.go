package messaging

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

// KafkaPublisher writes outbox events keyed by order id, so all events of
// one order land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.OutboxEvent) error {
	if err := p.writer.WriteMessages(ctx, toMessage(ev)); err != nil {
		return fmt.Errorf("write %s to kafka: %w", ev.Type, err)
	}
	return nil
}

func toMessage(ev domain.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: ev.Payload,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.ID)},
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
