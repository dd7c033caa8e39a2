package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const productColumns = `id, code, name, price, image, featured, created_at, updated_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Image, &p.Featured, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *SQLAdapter) ListProducts(ctx context.Context, featuredOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if featuredOnly {
		query += ` WHERE featured = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify("query products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate products", err)
	}
	return products, nil
}

func (s *SQLAdapter) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(s.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: product %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Product{}, classify("query product", err)
	}
	return p, nil
}

func (s *SQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := s.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.Name, p.Price, p.Image, p.Featured, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return classify("insert product", err)
	}
	return nil
}

func (s *SQLAdapter) UpdateProduct(ctx context.Context, p domain.Product) error {
	result, err := s.exec(ctx, `
		UPDATE products
		SET code = ?, name = ?, price = ?, image = ?, featured = ?, updated_at = ?
		WHERE id = ?`,
		p.Code, p.Name, p.Price, p.Image, p.Featured, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return classify("update product", err)
	}
	return requireAffected(result, "product", p.ID)
}

func (s *SQLAdapter) DeleteProduct(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return classify("delete product", err)
	}
	return requireAffected(result, "product", id)
}

// requireAffected turns a statement that touched no row into ErrNotFound.
// MySQL reports zero affected rows for an UPDATE that changes nothing, so
// callers on MySQL must open the connection with clientFoundRows=true.
func requireAffected(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %q", domain.ErrNotFound, entity, id)
	}
	return nil
}

func (t *sqlTx) ProductsByID(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := t.query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, classify("query products", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("scan product", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate products", err)
	}
	return products, nil
}
