package port

import (
	"context"
	"errors"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

var ErrCacheMiss = errors.New("cache miss")

type ProductCache interface {
	// GetProduct returns ErrCacheMiss when the product is not cached
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	SetProduct(ctx context.Context, p domain.Product) error
	InvalidateProduct(ctx context.Context, id string) error
}

type IdempotencyStore interface {
	// Claim reserves key for the caller. When the key was already claimed it
	// returns claimed=false and the stored result, which is empty while the
	// first request is still in flight.
	Claim(ctx context.Context, key string) (claimed bool, result string, err error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}
