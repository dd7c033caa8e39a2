package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
)

type Order struct {
	ID             string          `json:"id"`
	CartID         string          `json:"cartId"`
	CartGeneration int64           `json:"cartGeneration"`
	CustomerName   string          `json:"customerName"`
	TableID        string          `json:"tableId"`
	Status         OrderStatus     `json:"status"`
	Total          decimal.Decimal `json:"total"`
	Lines          []OrderLine     `json:"lines,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// OrderLine is a by-value copy of a product taken at checkout time. It is
// never re-read from the catalog.
type OrderLine struct {
	Position    int             `json:"position"`
	CartLineID  string          `json:"cartLineId,omitempty"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	Note        string          `json:"note,omitempty"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}
