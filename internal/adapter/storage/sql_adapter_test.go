package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

func newTestStore(t *testing.T) *SQLAdapter {
	t.Helper()
	store, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate())
	return store
}

func seedProduct(t *testing.T, store *SQLAdapter, name, price string, featured bool) domain.Product {
	t.Helper()
	now := time.Now().UTC()
	p := domain.Product{
		ID:        uuid.NewString(),
		Code:      "C-" + name,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Featured:  featured,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateProduct(context.Background(), p))
	return p
}

func seedCartLine(t *testing.T, store *SQLAdapter, cartID, productID string, qty int) domain.CartLine {
	t.Helper()
	l := domain.CartLine{
		ID:        uuid.NewString(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AddCartLine(context.Background(), l))
	return l
}

func TestMigrate_IsRepeatable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate())

	var generation int64
	err := store.DB().QueryRow(`SELECT generation FROM carts WHERE id = ?`, domain.DefaultCartID).Scan(&generation)
	require.NoError(t, err)
	assert.Equal(t, int64(0), generation)
}

func TestProducts_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tea := seedProduct(t, store, "Teh", "5000", false)
	coffee := seedProduct(t, store, "Kopi", "12500.50", true)

	got, err := store.GetProduct(ctx, coffee.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kopi", got.Name)
	assert.True(t, coffee.Price.Equal(got.Price), "price %s", got.Price)
	assert.True(t, got.Featured)

	all, err := store.ListProducts(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Kopi", all[0].Name)

	featured, err := store.ListProducts(ctx, true)
	require.NoError(t, err)
	require.Len(t, featured, 1)
	assert.Equal(t, coffee.ID, featured[0].ID)

	tea.Price = decimal.NewFromInt(6000)
	tea.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateProduct(ctx, tea))
	got, err = store.GetProduct(ctx, tea.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6000).Equal(got.Price))

	require.NoError(t, store.DeleteProduct(ctx, tea.ID))
	_, err = store.GetProduct(ctx, tea.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProducts_UnknownIDIsNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpdateProduct(ctx, domain.Product{ID: "missing", UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = store.DeleteProduct(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCartLines_ListNewestFirstWithProductData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	coffee := seedProduct(t, store, "Kopi", "10000", false)
	tea := seedProduct(t, store, "Teh", "5000", false)

	first := seedCartLine(t, store, domain.DefaultCartID, coffee.ID, 2)
	second := seedCartLine(t, store, domain.DefaultCartID, tea.ID, 1)
	seedCartLine(t, store, "other", tea.ID, 1)

	require.NoError(t, store.DeleteProduct(ctx, tea.ID))

	lines, err := store.ListCartLines(ctx, domain.DefaultCartID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, second.ID, lines[0].ID)
	assert.True(t, lines[0].ProductMissing)

	assert.Equal(t, first.ID, lines[1].ID)
	assert.Equal(t, "Kopi", lines[1].ProductName)
	assert.True(t, decimal.NewFromInt(20000).Equal(lines[1].LineTotal))
}

func TestCartLines_RemoveIsScopedToCart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := seedProduct(t, store, "Kopi", "10000", false)
	line := seedCartLine(t, store, domain.DefaultCartID, p.ID, 1)

	err := store.RemoveCartLine(ctx, "other", line.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.RemoveCartLine(ctx, domain.DefaultCartID, line.ID))
	err = store.RemoveCartLine(ctx, domain.DefaultCartID, line.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCartLines_QuantityCheckConstraint(t *testing.T) {
	store := newTestStore(t)
	p := seedProduct(t, store, "Kopi", "10000", false)

	err := store.AddCartLine(context.Background(), domain.CartLine{
		ID: uuid.NewString(), CartID: domain.DefaultCartID, ProductID: p.ID, Quantity: 0, CreatedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestTx_LockCartBumpsGeneration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			got, err := tx.LockCart(ctx, domain.DefaultCartID)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			return nil
		})
		require.NoError(t, err)
	}

	err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		got, err := tx.LockCart(ctx, "table-7")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_RollbackDiscardsEveryWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := seedProduct(t, store, "Kopi", "10000", false)
	seedCartLine(t, store, domain.DefaultCartID, p.ID, 2)

	boom := fmt.Errorf("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		gen, err := tx.LockCart(ctx, domain.DefaultCartID)
		require.NoError(t, err)
		require.NoError(t, tx.InsertOrder(ctx, newOrder(gen, p)))
		n, err := tx.ClearCart(ctx, domain.DefaultCartID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	lines, err := store.ListCartLines(ctx, domain.DefaultCartID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	pending, err := store.ListPendingOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTx_DuplicateCartGenerationIsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, store, "Kopi", "10000", false)

	insert := func() error {
		return store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			return tx.InsertOrder(ctx, newOrder(7, p))
		})
	}
	require.NoError(t, insert())

	err := insert()
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "concurrent update detected, retry the request", domain.PublicMessage(err))
}

func TestOrders_LifecycleAndLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, store, "Kopi", "10000", false)

	order := newOrder(1, p)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertOrder(ctx, order)
	}))

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Kopi", got.Lines[0].ProductName)
	assert.Empty(t, got.Lines[0].CartLineID)

	lines, err := store.GetOrderLines(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Lines, lines)

	_, err = store.GetOrderLines(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	completedAt := time.Now().UTC()
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, locked.Status)
		return tx.MarkOrderCompleted(ctx, order.ID, completedAt)
	}))

	got, err = store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	err = store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.MarkOrderCompleted(ctx, order.ID, completedAt)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound, "a completed order never moves again")

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.DeleteOrder(ctx, order.ID)
	}))
	_, err = store.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var orphans int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM order_lines WHERE order_id = ?`, order.ID).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestOutbox_FetchAndMarkSent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(map[string]int{"n": i})
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			return tx.EnqueueEvent(ctx, domain.OutboxEvent{
				ID:          uuid.NewString(),
				Type:        domain.EventOrderPlaced,
				AggregateID: fmt.Sprintf("order-%d", i),
				Payload:     payload,
				CreatedAt:   time.Now().UTC(),
			})
		}))
	}

	events, err := store.FetchUnsent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "order-0", events[0].AggregateID)
	assert.JSONEq(t, `{"n":0}`, string(events[0].Payload))

	require.NoError(t, store.MarkSent(ctx, events[0].Seq, time.Now().UTC()))

	events, err = store.FetchUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "order-1", events[0].AggregateID)
}

func TestClassify_ContextErrors(t *testing.T) {
	assert.ErrorIs(t, classify("op", context.DeadlineExceeded), domain.ErrTimeout)
	assert.ErrorIs(t, classify("op", context.Canceled), domain.ErrUnavailable)
	assert.ErrorIs(t, classify("op", fmt.Errorf("weird")), domain.ErrInternal)
	assert.NoError(t, classify("op", nil))
}

func TestClassify_DriverCodes(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&mysql.MySQLError{Number: mysqlDuplicateEntry}, domain.ErrConflict},
		{&mysql.MySQLError{Number: mysqlDeadlock}, domain.ErrConflict},
		{&mysql.MySQLError{Number: mysqlDataTooLong}, domain.ErrInvalidRequest},
		{&mysql.MySQLError{Number: mysqlOutOfRange}, domain.ErrInvalidRequest},
		{&pgconn.PgError{Code: pgUniqueViolation}, domain.ErrConflict},
		{&pgconn.PgError{Code: pgQueryCanceled}, domain.ErrTimeout},
		{&pgconn.PgError{Code: pgStringTooLong}, domain.ErrInvalidRequest},
		{&pgconn.PgError{Code: pgNumericOutOfRange}, domain.ErrInvalidRequest},
		{&pgconn.PgError{Code: "42P01"}, domain.ErrInternal},
	}
	for _, tc := range cases {
		err := classify("insert order", tc.err)
		assert.ErrorIs(t, err, tc.want, tc.err.Error())
		assert.NotContains(t, domain.PublicMessage(err), tc.err.Error())
	}
}

func TestMySQLDSN_ForcesRequiredParams(t *testing.T) {
	dsn, err := mysqlDSN("app:secret@tcp(db:3306)/posdesk?charset=utf8mb4")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.MultiStatements)
	assert.True(t, cfg.ParseTime)
	assert.True(t, cfg.ClientFoundRows)
	assert.Equal(t, "posdesk", cfg.DBName)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "db:3306", cfg.Addr)

	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := dialect{name: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)"))

	my := dialect{name: DriverMySQL}
	assert.Equal(t, "a = ?", my.rebind("a = ?"))
	assert.Equal(t, " FOR UPDATE", my.forUpdate())
	assert.Empty(t, dialect{name: DriverSQLite}.forUpdate())
}

func newOrder(generation int64, p domain.Product) domain.Order {
	return domain.Order{
		ID:             uuid.NewString(),
		CartID:         domain.DefaultCartID,
		CartGeneration: generation,
		CustomerName:   "Budi",
		TableID:        "T1",
		Status:         domain.OrderStatusPending,
		Total:          p.Price,
		CreatedAt:      time.Now().UTC(),
		Lines: []domain.OrderLine{{
			Position:    1,
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    1,
			LineTotal:   p.Price,
		}},
	}
}
