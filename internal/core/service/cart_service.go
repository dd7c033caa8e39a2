package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

type CartService struct {
	carts    port.CartRepository
	products port.ProductRepository
	log      *slog.Logger
	now      func() time.Time
}

func NewCartService(carts port.CartRepository, products port.ProductRepository, log *slog.Logger) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		log:      log.With("component", "cart"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *CartService) AddLine(ctx context.Context, cartID, productID string, quantity int, note string) (domain.CartLine, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CartLine{}, fmt.Errorf("%w: productId is required", domain.ErrInvalidRequest)
	}
	if err := validateLine(quantity, note); err != nil {
		return domain.CartLine{}, err
	}
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return domain.CartLine{}, err
	}

	line := domain.CartLine{
		ID:        uuid.NewString(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
		Note:      strings.TrimSpace(note),
		CreatedAt: s.now(),
	}
	if err := s.carts.AddCartLine(ctx, line); err != nil {
		return domain.CartLine{}, err
	}
	s.log.Info("cart line added", "action", "add_cart_line", "cart_id", cartID, "line_id", line.ID)
	return line, nil
}

func (s *CartService) ListLines(ctx context.Context, cartID string) ([]domain.CartLineView, error) {
	return s.carts.ListCartLines(ctx, cartID)
}

func (s *CartService) RemoveLine(ctx context.Context, cartID, lineID string) error {
	if err := s.carts.RemoveCartLine(ctx, cartID, lineID); err != nil {
		return err
	}
	s.log.Info("cart line removed", "action", "remove_cart_line", "cart_id", cartID, "line_id", lineID)
	return nil
}
