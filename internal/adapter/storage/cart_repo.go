package storage

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

func (s *SQLAdapter) AddCartLine(ctx context.Context, line domain.CartLine) error {
	_, err := s.exec(ctx, `
		INSERT INTO cart_lines (id, cart_id, product_id, quantity, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		line.ID, line.CartID, line.ProductID, line.Quantity, line.Note, line.CreatedAt,
	)
	if err != nil {
		return classify("insert cart line", err)
	}
	return nil
}

func (s *SQLAdapter) ListCartLines(ctx context.Context, cartID string) ([]domain.CartLineView, error) {
	rows, err := s.query(ctx, `
		SELECT c.id, c.cart_id, c.product_id, c.quantity, c.note, c.created_at,
		       p.name, p.price, p.image
		FROM cart_lines c
		LEFT JOIN products p ON p.id = c.product_id
		WHERE c.cart_id = ?
		ORDER BY c.seq DESC`, cartID)
	if err != nil {
		return nil, classify("query cart lines", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLineView, 0)
	for rows.Next() {
		var (
			v     domain.CartLineView
			name  sql.NullString
			price decimal.NullDecimal
			image sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.CartID, &v.ProductID, &v.Quantity, &v.Note, &v.CreatedAt,
			&name, &price, &image); err != nil {
			return nil, classify("scan cart line", err)
		}
		if !name.Valid {
			v.ProductMissing = true
		} else {
			v.ProductName = name.String
			v.Price = price.Decimal
			v.Image = image.String
			v.LineTotal = price.Decimal.Mul(decimal.NewFromInt(int64(v.Quantity)))
		}
		lines = append(lines, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate cart lines", err)
	}
	return lines, nil
}

func (s *SQLAdapter) RemoveCartLine(ctx context.Context, cartID, lineID string) error {
	result, err := s.exec(ctx, `DELETE FROM cart_lines WHERE id = ? AND cart_id = ?`, lineID, cartID)
	if err != nil {
		return classify("delete cart line", err)
	}
	return requireAffected(result, "cart line", lineID)
}

// LockCart bumps the generation of the cart row, creating the row on first
// use. Concurrent callers block on the row lock until the holder finishes.
func (t *sqlTx) LockCart(ctx context.Context, cartID string) (int64, error) {
	result, err := t.exec(ctx, `UPDATE carts SET generation = generation + 1 WHERE id = ?`, cartID)
	if err != nil {
		return 0, classify("lock cart", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, classify("lock cart", err)
	}
	if rows == 0 {
		// a racing creator surfaces as a unique violation, which is a Conflict
		if _, err := t.exec(ctx, `INSERT INTO carts (id, generation) VALUES (?, 1)`, cartID); err != nil {
			return 0, classify("create cart", err)
		}
		return 1, nil
	}

	var generation int64
	if err := t.queryRow(ctx, `SELECT generation FROM carts WHERE id = ?`, cartID).Scan(&generation); err != nil {
		return 0, classify("read cart generation", err)
	}
	return generation, nil
}

// CartLines reads the lines of a cart in insertion order, locking them
// where the database supports it.
func (t *sqlTx) CartLines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	rows, err := t.query(ctx, `
		SELECT id, cart_id, product_id, quantity, note, created_at
		FROM cart_lines
		WHERE cart_id = ?
		ORDER BY seq`+t.dialect.forUpdate(), cartID)
	if err != nil {
		return nil, classify("query cart lines", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.Note, &l.CreatedAt); err != nil {
			return nil, classify("scan cart line", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate cart lines", err)
	}
	return lines, nil
}

func (t *sqlTx) ClearCart(ctx context.Context, cartID string) (int64, error) {
	result, err := t.exec(ctx, `DELETE FROM cart_lines WHERE cart_id = ?`, cartID)
	if err != nil {
		return 0, classify("clear cart", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("clear cart", err)
	}
	return n, nil
}
