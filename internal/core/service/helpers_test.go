package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-checkout/internal/adapter/storage"
	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/logger"
	"github.com/rl1809/pos-checkout/internal/metrics"
	"github.com/rl1809/pos-checkout/internal/port"
)

type testEnv struct {
	store    *storage.SQLAdapter
	metrics  *metrics.Metrics
	catalog  *CatalogService
	carts    *CartService
	orders   *OrderService
	checkout *CheckoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Options{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	m := metrics.New(prometheus.NewRegistry())
	log := logger.Discard()
	return &testEnv{
		store:    store,
		metrics:  m,
		catalog:  NewCatalogService(store, nil, log),
		carts:    NewCartService(store, store, log),
		orders:   NewOrderService(store, log),
		checkout: NewCheckoutService(store, nil, m, log, CheckoutOptions{Timeout: 2 * time.Second}),
	}
}

func (e *testEnv) checkoutWith(store port.Store, idem port.IdempotencyStore, opts CheckoutOptions) *CheckoutService {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	return NewCheckoutService(store, idem, e.metrics, logger.Discard(), opts)
}

func (e *testEnv) product(t *testing.T, name, price string) domain.Product {
	t.Helper()
	p, err := e.catalog.Create(context.Background(), domain.ProductInput{
		Code:  "C-" + name,
		Name:  name,
		Price: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) addToCart(t *testing.T, productID string, qty int, note string) domain.CartLine {
	t.Helper()
	line, err := e.carts.AddLine(context.Background(), domain.DefaultCartID, productID, qty, note)
	require.NoError(t, err)
	return line
}

// requestFromCart builds a checkout request that mirrors the current cart.
func (e *testEnv) requestFromCart(t *testing.T) domain.CheckoutRequest {
	t.Helper()
	lines, err := e.carts.ListLines(context.Background(), domain.DefaultCartID)
	require.NoError(t, err)

	req := domain.CheckoutRequest{CustomerName: "Budi", TableID: "T1"}
	for _, l := range lines {
		req.Lines = append(req.Lines, domain.RequestedLine{ProductID: l.ProductID, Quantity: l.Quantity, Note: l.Note})
	}
	return req
}

func (e *testEnv) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.store.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// faultStore wraps every transaction handed out by the real store.
type faultStore struct {
	port.Store
	wrap    func(port.Tx) port.Tx
	txCalls atomic.Int32
}

func (f *faultStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	f.txCalls.Add(1)
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if f.wrap == nil {
			return fn(ctx, tx)
		}
		return fn(ctx, f.wrap(tx))
	})
}

type faultTx struct {
	port.Tx
	lockCart   func(ctx context.Context) error
	insertErr  func() error
	clearErr   error
	enqueueErr error
}

func (f *faultTx) LockCart(ctx context.Context, cartID string) (int64, error) {
	if f.lockCart != nil {
		if err := f.lockCart(ctx); err != nil {
			return 0, err
		}
	}
	return f.Tx.LockCart(ctx, cartID)
}

func (f *faultTx) InsertOrder(ctx context.Context, o domain.Order) error {
	if f.insertErr != nil {
		if err := f.insertErr(); err != nil {
			return err
		}
	}
	return f.Tx.InsertOrder(ctx, o)
}

func (f *faultTx) ClearCart(ctx context.Context, cartID string) (int64, error) {
	if f.clearErr != nil {
		return 0, f.clearErr
	}
	return f.Tx.ClearCart(ctx, cartID)
}

func (f *faultTx) EnqueueEvent(ctx context.Context, ev domain.OutboxEvent) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	return f.Tx.EnqueueEvent(ctx, ev)
}

// memIdempotency is an in-process port.IdempotencyStore.
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: make(map[string]string)}
}

func (m *memIdempotency) Claim(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.keys[key]; ok {
		return false, v, nil
	}
	m.keys[key] = ""
	return true, "", nil
}

func (m *memIdempotency) Complete(ctx context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = result
	return nil
}

func (m *memIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] == "" {
		delete(m.keys, key)
	}
	return nil
}
