package domain

import "github.com/shopspring/decimal"

// Field bounds shared by validation and the SQL schema. A value that passes
// these checks always fits its column.
const (
	MaxCodeLength         = 64
	MaxNameLength         = 255
	MaxImageLength        = 512
	MaxCustomerNameLength = 255
	MaxTableIDLength      = 64
	MaxNoteLength         = 512

	// MaxLineQuantity keeps quantity * price inside the order total column.
	MaxLineQuantity = 9999
	// MaxCheckoutLines bounds one order.
	MaxCheckoutLines = 100

	// PriceScale is the number of fraction digits a price may carry.
	PriceScale = 2
)

// MaxPrice is the largest value of a DECIMAL(12,2) price column.
var MaxPrice = decimal.RequireFromString("9999999999.99")
