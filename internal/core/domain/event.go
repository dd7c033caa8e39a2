package domain

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced    = "order.placed"
	EventOrderCompleted = "order.completed"
)

// OutboxEvent is written in the same transaction as the state change it
// describes and relayed to the broker afterwards.
type OutboxEvent struct {
	Seq         int64           `json:"-"`
	ID          string          `json:"eventId"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}
