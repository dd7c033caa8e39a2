package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/metrics"
	"github.com/rl1809/pos-checkout/internal/port"
)

var (
	ErrCartEmpty   = fmt.Errorf("%w: cart is empty", domain.ErrInvalidRequest)
	ErrCartChanged = fmt.Errorf("%w: cart changed, reload it and retry", domain.ErrConflict)
	ErrInFlight    = fmt.Errorf("%w: a request with this idempotency key is still in progress", domain.ErrConflict)
	ErrKeyReused   = fmt.Errorf("%w: idempotency key was already used for a different request", domain.ErrConflict)
)

type CheckoutOptions struct {
	CartID  string
	Source  domain.CheckoutSource
	Timeout time.Duration
	// Retries is how many times a transaction that hit a store conflict is re-run.
	Retries int
}

type CheckoutService struct {
	store   port.Store
	idem    port.IdempotencyStore // nil disables Idempotency-Key handling
	metrics *metrics.Metrics
	log     *slog.Logger
	opts    CheckoutOptions
	now     func() time.Time
}

func NewCheckoutService(store port.Store, idem port.IdempotencyStore, m *metrics.Metrics, log *slog.Logger, opts CheckoutOptions) *CheckoutService {
	if opts.CartID == "" {
		opts.CartID = domain.DefaultCartID
	}
	if opts.Source == "" {
		opts.Source = domain.SourceCart
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &CheckoutService{
		store:   store,
		idem:    idem,
		metrics: m,
		log:     log.With("component", "checkout"),
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *CheckoutService) DefaultCartID() string {
	return s.opts.CartID
}

// CheckoutOnce deduplicates checkouts that carry the same idempotency key.
// A finished duplicate is answered with the stored order and replayed=true.
// The key remembers a fingerprint of the request it placed, and a different
// request under the same key is a conflict.
func (s *CheckoutService) CheckoutOnce(ctx context.Context, key string, req domain.CheckoutRequest) (domain.CheckoutResult, bool, error) {
	if s.idem == nil || key == "" {
		res, err := s.Checkout(ctx, req)
		return res, false, err
	}
	if err := validateCheckout(req); err != nil {
		s.record(err)
		return domain.CheckoutResult{}, false, err
	}

	fingerprint := requestFingerprint(s.cartID(req), req)

	claimed, stored, err := s.idem.Claim(ctx, key)
	if err != nil {
		s.log.Error("idempotency claim failed", "action", "checkout", "error", err)
		return domain.CheckoutResult{}, false, fmt.Errorf("%w: idempotency check failed: %v", domain.ErrUnavailable, err)
	}
	if !claimed {
		if stored == "" {
			return domain.CheckoutResult{}, false, ErrInFlight
		}
		orderID, storedFingerprint := parseClaimResult(stored)
		if storedFingerprint != "" && storedFingerprint != fingerprint {
			s.record(ErrKeyReused)
			s.log.Info("idempotency key reused with a different request", "action", "checkout", "order_id", orderID)
			return domain.CheckoutResult{}, false, ErrKeyReused
		}
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return domain.CheckoutResult{}, false, err
		}
		s.log.Info("checkout replayed", "action", "checkout", "order_id", orderID)
		return domain.CheckoutResult{Order: order, Total: order.Total}, true, nil
	}

	res, err := s.Checkout(ctx, req)
	// the claim outlives a canceled request context
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := s.idem.Release(bg, key); relErr != nil {
			s.log.Warn("idempotency release failed", "action", "checkout", "error", relErr)
		}
		return res, false, err
	}
	if err := s.idem.Complete(bg, key, claimResult(res.Order.ID, fingerprint)); err != nil {
		s.log.Warn("idempotency complete failed", "action", "checkout", "order_id", res.Order.ID, "error", err)
	}
	return res, false, nil
}

// Checkout turns the cart into a pending order in one transaction. Every
// precondition on the request is checked before the transaction opens.
func (s *CheckoutService) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	start := time.Now()
	if err := validateCheckout(req); err != nil {
		s.record(err)
		return domain.CheckoutResult{}, err
	}
	cartID := s.cartID(req)

	var (
		order domain.Order
		err   error
	)
	for attempt := 0; ; attempt++ {
		order, err = s.attempt(ctx, cartID, req)
		if err == nil || attempt >= s.opts.Retries || !retryable(err) {
			break
		}
		s.metrics.CheckoutRetries.Inc()
		s.log.Warn("checkout conflict, retrying", "action", "checkout", "cart_id", cartID, "attempt", attempt+1, "error", err)
	}
	s.metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	s.record(err)

	if err != nil {
		s.logFailure(cartID, err)
		return domain.CheckoutResult{}, err
	}

	s.log.Info("order placed", "action", "checkout",
		"order_id", order.ID, "cart_id", cartID, "lines", len(order.Lines), "total", order.Total.String())
	return domain.CheckoutResult{Order: order, Total: order.Total}, nil
}

func (s *CheckoutService) cartID(req domain.CheckoutRequest) string {
	if id := strings.TrimSpace(req.CartID); id != "" {
		return id
	}
	return s.opts.CartID
}

// attempt runs one checkout transaction bounded by the configured timeout.
func (s *CheckoutService) attempt(ctx context.Context, cartID string, req domain.CheckoutRequest) (domain.Order, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var order domain.Order
	err := s.store.WithinTx(txCtx, func(ctx context.Context, tx port.Tx) error {
		generation, err := tx.LockCart(ctx, cartID)
		if err != nil {
			return err
		}

		var cartLines []domain.CartLine
		if s.opts.Source == domain.SourceCart {
			cartLines, err = tx.CartLines(ctx, cartID)
			if err != nil {
				return err
			}
			if len(cartLines) == 0 {
				return ErrCartEmpty
			}
		}

		products, err := tx.ProductsByID(ctx, productIDs(req.Lines, cartLines))
		if err != nil {
			return err
		}
		if err := requireProducts(products, req.Lines, cartLines); err != nil {
			return err
		}
		if s.opts.Source == domain.SourceCart && !sameLines(req.Lines, cartLines) {
			return ErrCartChanged
		}

		order = s.snapshot(cartID, generation, req, cartLines, products)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if _, err := tx.ClearCart(ctx, cartID); err != nil {
			return err
		}

		ev, err := newEvent(domain.EventOrderPlaced, order.ID, order, order.CreatedAt)
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, ev)
	})

	if err != nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, domain.ErrTimeout) {
		err = fmt.Errorf("%w: checkout did not finish within %s: %w", domain.ErrTimeout, s.opts.Timeout, err)
	}
	return order, err
}

// snapshot copies name and price of every product into the order. The
// cart lines drive the order in cart mode, the request lines otherwise.
func (s *CheckoutService) snapshot(cartID string, generation int64, req domain.CheckoutRequest,
	cartLines []domain.CartLine, products map[string]domain.Product) domain.Order {
	order := domain.Order{
		ID:             uuid.NewString(),
		CartID:         cartID,
		CartGeneration: generation,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		TableID:        strings.TrimSpace(req.TableID),
		Status:         domain.OrderStatusPending,
		Total:          decimal.Zero,
		CreatedAt:      s.now(),
	}

	add := func(cartLineID, productID string, qty int, note string) {
		p := products[productID]
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(qty)))
		order.Lines = append(order.Lines, domain.OrderLine{
			Position:    len(order.Lines) + 1,
			CartLineID:  cartLineID,
			ProductID:   productID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    qty,
			Note:        note,
			LineTotal:   lineTotal,
		})
		order.Total = order.Total.Add(lineTotal)
	}

	if s.opts.Source == domain.SourceCart {
		for _, l := range cartLines {
			add(l.ID, l.ProductID, l.Quantity, l.Note)
		}
	} else {
		for _, l := range req.Lines {
			add("", strings.TrimSpace(l.ProductID), l.Quantity, strings.TrimSpace(l.Note))
		}
	}
	return order
}

func (s *CheckoutService) record(err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	s.metrics.Checkouts.WithLabelValues(outcome).Inc()
}

func (s *CheckoutService) logFailure(cartID string, err error) {
	kind := domain.KindOf(err)
	if kind.Exposable() {
		s.log.Info("checkout rejected", "action", "checkout", "cart_id", cartID, "kind", kind, "error", err)
		return
	}
	s.log.Error("checkout failed", "action", "checkout", "cart_id", cartID, "kind", kind, "error", err)
}

func validateCheckout(req domain.CheckoutRequest) error {
	customer, table := strings.TrimSpace(req.CustomerName), strings.TrimSpace(req.TableID)
	switch {
	case customer == "":
		return fmt.Errorf("%w: customerName is required", domain.ErrInvalidRequest)
	case tooLong(customer, domain.MaxCustomerNameLength):
		return fmt.Errorf("%w: customerName must be at most %d characters", domain.ErrInvalidRequest, domain.MaxCustomerNameLength)
	case table == "":
		return fmt.Errorf("%w: tableId is required", domain.ErrInvalidRequest)
	case tooLong(table, domain.MaxTableIDLength):
		return fmt.Errorf("%w: tableId must be at most %d characters", domain.ErrInvalidRequest, domain.MaxTableIDLength)
	case len(req.Lines) == 0:
		return fmt.Errorf("%w: at least one line is required", domain.ErrInvalidRequest)
	case len(req.Lines) > domain.MaxCheckoutLines:
		return fmt.Errorf("%w: at most %d lines per order", domain.ErrInvalidRequest, domain.MaxCheckoutLines)
	}
	for i, l := range req.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return fmt.Errorf("%w: line %d: productId is required", domain.ErrInvalidRequest, i+1)
		}
		if err := validateLine(l.Quantity, l.Note); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// validateLine checks the quantity and note of a cart or order line.
func validateLine(quantity int, note string) error {
	if quantity < 1 || quantity > domain.MaxLineQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrInvalidRequest, domain.MaxLineQuantity)
	}
	if tooLong(strings.TrimSpace(note), domain.MaxNoteLength) {
		return fmt.Errorf("%w: note must be at most %d characters", domain.ErrInvalidRequest, domain.MaxNoteLength)
	}
	return nil
}

// tooLong counts characters, as VARCHAR limits do.
func tooLong(s string, max int) bool {
	return utf8.RuneCountInString(s) > max
}

// requestFingerprint hashes the parts of a request that decide which order
// it places.
func requestFingerprint(cartID string, req domain.CheckoutRequest) string {
	type line struct {
		ProductID string `json:"p"`
		Quantity  int    `json:"q"`
		Note      string `json:"n"`
	}
	canonical := struct {
		CartID       string `json:"c"`
		CustomerName string `json:"u"`
		TableID      string `json:"t"`
		Lines        []line `json:"l"`
	}{CartID: cartID, CustomerName: strings.TrimSpace(req.CustomerName), TableID: strings.TrimSpace(req.TableID)}
	for _, l := range req.Lines {
		canonical.Lines = append(canonical.Lines, line{strings.TrimSpace(l.ProductID), l.Quantity, strings.TrimSpace(l.Note)})
	}
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// claimResult is the value a completed key holds: "<orderID> <fingerprint>".
func claimResult(orderID, fingerprint string) string {
	return orderID + " " + fingerprint
}

// parseClaimResult also accepts a bare order id.
func parseClaimResult(v string) (orderID, fingerprint string) {
	orderID, fingerprint, _ = strings.Cut(v, " ")
	return orderID, fingerprint
}

// retryable reports conflicts raised by the store itself. A conflict found
// by the checkout rules, like a changed cart, would fail the same way again.
func retryable(err error) bool {
	var se *domain.StoreError
	return errors.As(err, &se) && errors.Is(err, domain.ErrConflict)
}

func productIDs(reqLines []domain.RequestedLine, cartLines []domain.CartLine) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, l := range reqLines {
		add(strings.TrimSpace(l.ProductID))
	}
	for _, l := range cartLines {
		add(l.ProductID)
	}
	return ids
}

func requireProducts(products map[string]domain.Product, reqLines []domain.RequestedLine, cartLines []domain.CartLine) error {
	for i, l := range reqLines {
		id := strings.TrimSpace(l.ProductID)
		if _, ok := products[id]; !ok {
			return fmt.Errorf("%w: line %d: product %q not found", domain.ErrNotFound, i+1, id)
		}
	}
	for _, l := range cartLines {
		if _, ok := products[l.ProductID]; !ok {
			return fmt.Errorf("%w: cart line %s: product %q not found", domain.ErrNotFound, l.ID, l.ProductID)
		}
	}
	return nil
}

// sameLines compares the (product, quantity) multisets of the request and the cart.
func sameLines(reqLines []domain.RequestedLine, cartLines []domain.CartLine) bool {
	if len(reqLines) != len(cartLines) {
		return false
	}
	type key struct {
		productID string
		quantity  int
	}
	counts := make(map[key]int, len(cartLines))
	for _, l := range cartLines {
		counts[key{l.ProductID, l.Quantity}]++
	}
	for _, l := range reqLines {
		k := key{strings.TrimSpace(l.ProductID), l.Quantity}
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}

type orderPayload struct {
	OrderID      string             `json:"orderId"`
	CartID       string             `json:"cartId"`
	CustomerName string             `json:"customerName"`
	TableID      string             `json:"tableId"`
	Status       domain.OrderStatus `json:"status"`
	Total        decimal.Decimal    `json:"total"`
	Lines        []domain.OrderLine `json:"lines,omitempty"`
	At           time.Time          `json:"at"`
}

func newEvent(eventType, aggregateID string, order domain.Order, at time.Time) (domain.OutboxEvent, error) {
	payload, err := json.Marshal(orderPayload{
		OrderID:      order.ID,
		CartID:       order.CartID,
		CustomerName: order.CustomerName,
		TableID:      order.TableID,
		Status:       order.Status,
		Total:        order.Total,
		Lines:        order.Lines,
		At:           at,
	})
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   at,
	}, nil
}
