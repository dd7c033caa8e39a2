package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCartID names the single shared cart a deployment starts with.
const DefaultCartID = "default"

// CartLine is one pending item of a cart. The set of lines with the same
// CartID is the cart.
type CartLine struct {
	ID        string    `json:"id"`
	CartID    string    `json:"cartId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CartLineView is a cart line joined with the current product record.
type CartLineView struct {
	CartLine
	ProductName    string          `json:"productName"`
	Price          decimal.Decimal `json:"price"`
	Image          string          `json:"image,omitempty"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	ProductMissing bool            `json:"productMissing,omitempty"`
}
