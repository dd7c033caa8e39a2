package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

type CatalogService struct {
	repo  port.ProductRepository
	cache port.ProductCache // nil disables caching
	log   *slog.Logger
	sfg   singleflight.Group
	now   func() time.Time

	// gen advances on every invalidation. A read that filled the cache while
	// it moved may have written a row older than the invalidation.
	gen atomic.Uint64
}

func NewCatalogService(repo port.ProductRepository, cache port.ProductCache, log *slog.Logger) *CatalogService {
	return &CatalogService{
		repo:  repo,
		cache: cache,
		log:   log.With("component", "catalog"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *CatalogService) List(ctx context.Context, featuredOnly bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, featuredOnly)
}

// Get serves the product through the cache when one is configured.
// Concurrent misses for the same id share one database read.
func (s *CatalogService) Get(ctx context.Context, id string) (domain.Product, error) {
	if s.cache == nil {
		return s.repo.GetProduct(ctx, id)
	}

	v, err, _ := s.sfg.Do(id, func() (interface{}, error) {
		p, err := s.cache.GetProduct(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, port.ErrCacheMiss) {
			s.log.Warn("product cache read failed", "action", "get_product", "product_id", id, "error", err)
		}

		gen := s.gen.Load()
		p, err = s.repo.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetProduct(ctx, p); err != nil {
			s.log.Warn("product cache write failed", "action", "get_product", "product_id", id, "error", err)
		}
		if s.gen.Load() != gen {
			s.invalidate(ctx, id)
		}
		return p, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return v.(domain.Product), nil
}

func (s *CatalogService) Create(ctx context.Context, in domain.ProductInput) (domain.Product, error) {
	in, err := validateProduct(in)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	p := domain.Product{
		ID:        uuid.NewString(),
		Code:      in.Code,
		Name:      in.Name,
		Price:     in.Price,
		Image:     in.Image,
		Featured:  in.Featured,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return domain.Product{}, err
	}
	s.log.Info("product created", "action", "create_product", "product_id", p.ID)
	return p, nil
}

// Update replaces every writable field of the product.
func (s *CatalogService) Update(ctx context.Context, id string, in domain.ProductInput) (domain.Product, error) {
	in, err := validateProduct(in)
	if err != nil {
		return domain.Product{}, err
	}

	current, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	current.Code = in.Code
	current.Name = in.Name
	current.Price = in.Price
	current.Image = in.Image
	current.Featured = in.Featured
	current.UpdatedAt = s.now()

	if err := s.repo.UpdateProduct(ctx, current); err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, id)
	s.log.Info("product updated", "action", "update_product", "product_id", id)
	return current, nil
}

func (s *CatalogService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.log.Info("product deleted", "action", "delete_product", "product_id", id)
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	s.gen.Add(1)
	if err := s.cache.InvalidateProduct(ctx, id); err != nil {
		s.log.Warn("product cache invalidation failed", "product_id", id, "error", err)
	}
}

func validateProduct(in domain.ProductInput) (domain.ProductInput, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Image = strings.TrimSpace(in.Image)

	switch {
	case in.Code == "":
		return in, fmt.Errorf("%w: code is required", domain.ErrInvalidRequest)
	case in.Name == "":
		return in, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	case tooLong(in.Code, domain.MaxCodeLength):
		return in, fmt.Errorf("%w: code must be at most %d characters", domain.ErrInvalidRequest, domain.MaxCodeLength)
	case tooLong(in.Name, domain.MaxNameLength):
		return in, fmt.Errorf("%w: name must be at most %d characters", domain.ErrInvalidRequest, domain.MaxNameLength)
	case tooLong(in.Image, domain.MaxImageLength):
		return in, fmt.Errorf("%w: image must be at most %d characters", domain.ErrInvalidRequest, domain.MaxImageLength)
	case in.Price.IsNegative():
		return in, fmt.Errorf("%w: price must not be negative", domain.ErrInvalidRequest)
	case in.Price.GreaterThan(domain.MaxPrice):
		return in, fmt.Errorf("%w: price must not exceed %s", domain.ErrInvalidRequest, domain.MaxPrice)
	case !in.Price.Equal(in.Price.Round(domain.PriceScale)):
		return in, fmt.Errorf("%w: price has more than %d decimal places", domain.ErrInvalidRequest, domain.PriceScale)
	}
	return in, nil
}
