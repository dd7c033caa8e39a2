package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CheckoutSource selects where the checkout engine takes its lines from.
type CheckoutSource string

const (
	// SourceCart re-reads the authoritative cart inside the transaction.
	SourceCart CheckoutSource = "cart"
	// SourceRequest trusts the lines supplied by the caller.
	SourceRequest CheckoutSource = "request"
)

func ParseCheckoutSource(s string) (CheckoutSource, error) {
	switch CheckoutSource(s) {
	case SourceCart, SourceRequest:
		return CheckoutSource(s), nil
	default:
		return "", fmt.Errorf("unknown checkout source %q", s)
	}
}

type RequestedLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note,omitempty"`
}

type CheckoutRequest struct {
	CartID       string          `json:"-"`
	CustomerName string          `json:"customerName"`
	TableID      string          `json:"tableId"`
	Lines        []RequestedLine `json:"lines"`
}

type CheckoutResult struct {
	Order Order
	Total decimal.Decimal
}
