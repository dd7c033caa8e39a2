package port

import (
	"context"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

type ProductRepository interface {
	ListProducts(ctx context.Context, featuredOnly bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	CreateProduct(ctx context.Context, p domain.Product) error
	// UpdateProduct replaces every writable field, returns domain.ErrNotFound for unknown ids
	UpdateProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

type CartRepository interface {
	AddCartLine(ctx context.Context, line domain.CartLine) error
	// ListCartLines returns the lines of a cart, most recent first
	ListCartLines(ctx context.Context, cartID string) ([]domain.CartLineView, error)
	RemoveCartLine(ctx context.Context, cartID, lineID string) error
}

type OrderRepository interface {
	// ListPendingOrders returns pending orders in creation order
	ListPendingOrders(ctx context.Context) ([]domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrderLines(ctx context.Context, id string) ([]domain.OrderLine, error)
}

type OutboxRepository interface {
	FetchUnsent(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkSent(ctx context.Context, seq int64, at time.Time) error
}

// Tx is the unit of work the checkout and order lifecycle run in. Every
// method shares one database transaction.
type Tx interface {
	// LockCart bumps the cart generation and returns the new value. It is the
	// serialization point of concurrent checkouts of the same cart.
	LockCart(ctx context.Context, cartID string) (int64, error)
	CartLines(ctx context.Context, cartID string) ([]domain.CartLine, error)
	ProductsByID(ctx context.Context, ids []string) (map[string]domain.Product, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	ClearCart(ctx context.Context, cartID string) (int64, error)
	EnqueueEvent(ctx context.Context, ev domain.OutboxEvent) error

	LockOrder(ctx context.Context, id string) (domain.Order, error)
	MarkOrderCompleted(ctx context.Context, id string, at time.Time) error
	DeleteOrder(ctx context.Context, id string) error
}

type Store interface {
	ProductRepository
	CartRepository
	OrderRepository
	OutboxRepository

	// WithinTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
