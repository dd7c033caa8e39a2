package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const orderColumns = `id, cart_id, cart_generation, customer_name, table_id, status, total, created_at, completed_at`

func scanOrder(row scanner) (domain.Order, error) {
	var (
		o           domain.Order
		completedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.CartID, &o.CartGeneration, &o.CustomerName, &o.TableID,
		&o.Status, &o.Total, &o.CreatedAt, &completedAt)
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return o, err
}

func (s *SQLAdapter) ListPendingOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ?
		ORDER BY created_at, seq`, domain.OrderStatusPending)
	if err != nil {
		return nil, classify("query pending orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, classify("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate orders", err)
	}
	return orders, nil
}

func (s *SQLAdapter) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Order{}, classify("query order", err)
	}

	o.Lines, err = s.orderLines(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (s *SQLAdapter) GetOrderLines(ctx context.Context, id string) ([]domain.OrderLine, error) {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, classify("query order", err)
	}
	return s.orderLines(ctx, id)
}

func (s *SQLAdapter) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.query(ctx, `
		SELECT position, cart_line_id, product_id, product_name, unit_price, quantity, note, line_total
		FROM order_lines
		WHERE order_id = ?
		ORDER BY position`, orderID)
	if err != nil {
		return nil, classify("query order lines", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var (
			l          domain.OrderLine
			cartLineID sql.NullString
		)
		if err := rows.Scan(&l.Position, &cartLineID, &l.ProductID, &l.ProductName,
			&l.UnitPrice, &l.Quantity, &l.Note, &l.LineTotal); err != nil {
			return nil, classify("scan order line", err)
		}
		l.CartLineID = cartLineID.String
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate order lines", err)
	}
	return lines, nil
}

func (t *sqlTx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.exec(ctx, `
		INSERT INTO orders (id, cart_id, cart_generation, customer_name, table_id, status, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CartID, o.CartGeneration, o.CustomerName, o.TableID, o.Status, o.Total, o.CreatedAt,
	)
	if err != nil {
		return classify("insert order", err)
	}

	for _, l := range o.Lines {
		_, err := t.exec(ctx, `
			INSERT INTO order_lines (order_id, position, cart_line_id, product_id, product_name, unit_price, quantity, note, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, l.Position, nullString(l.CartLineID), l.ProductID, l.ProductName, l.UnitPrice, l.Quantity, l.Note, l.LineTotal,
		)
		if err != nil {
			return classify("insert order line", err)
		}
	}
	return nil
}

func (t *sqlTx) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`+t.dialect.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Order{}, classify("lock order", err)
	}
	return o, nil
}

// MarkOrderCompleted only moves a pending order forward.
func (t *sqlTx) MarkOrderCompleted(ctx context.Context, id string, at time.Time) error {
	result, err := t.exec(ctx, `
		UPDATE orders SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		domain.OrderStatusCompleted, at, id, domain.OrderStatusPending,
	)
	if err != nil {
		return classify("complete order", err)
	}
	return requireAffected(result, "pending order", id)
}

func (t *sqlTx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.exec(ctx, `DELETE FROM order_lines WHERE order_id = ?`, id); err != nil {
		return classify("delete order lines", err)
	}
	result, err := t.exec(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return classify("delete order", err)
	}
	return requireAffected(result, "order", id)
}
