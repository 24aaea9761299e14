package repository

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/entity"
)

const productColumns = `id, name, category_id, price, promotional_price, stock, stock_minimum, weight_grams, sold, active, available_for_sale`

// ProductRepository reads the catalog and owns the stock ledger writes.
type ProductRepository struct {
	db DBTX
}

func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db}
}

func scanProduct(row scanner) (*entity.Product, error) {
	p := &entity.Product{}
	var promo sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Price, &promo, &p.Stock, &p.StockMinimum, &p.WeightGrams, &p.Sold, &p.Active, &p.AvailableForSale)
	if err != nil {
		return nil, err
	}
	if promo.Valid {
		v := entity.Money(promo.Int64)
		p.PromotionalPrice = &v
	}
	return p, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

// GetByIDs returns the products found, keyed by id. Missing ids are simply absent.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Product, error) {
	products := make(map[string]*entity.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

// ListLowStock returns sellable products at or below their stock minimum.
func (r *ProductRepository) ListLowStock(ctx context.Context) ([]*entity.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE active = ? AND stock <= stock_minimum ORDER BY stock, id`
	rows, err := r.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*entity.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *ProductRepository) Create(ctx context.Context, p *entity.Product) error {
	var promo sql.NullInt64
	if p.PromotionalPrice != nil {
		promo = sql.NullInt64{Int64: int64(*p.PromotionalPrice), Valid: true}
	}
	query := `INSERT INTO products (` + productColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.CategoryID, p.Price, promo, p.Stock, p.StockMinimum, p.WeightGrams, p.Sold, p.Active, p.AvailableForSale)
	return translateError(err)
}

// Reserve decrements stock and bumps the sold counter in one conditional
// statement, so two transactions racing for the last unit cannot both win.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve %s: quantity must be positive, got %d", productID, quantity)
	}
	query := `UPDATE products SET stock = stock - ?, sold = sold + ? WHERE id = ? AND stock >= ?`
	res, err := r.db.ExecContext(ctx, query, quantity, quantity, productID, quantity)
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, productID); err != nil {
			return err
		}
		return ErrInsufficientStock
	}
	return nil
}

// Release gives quantity units back to stock and takes them off the sold counter.
func (r *ProductRepository) Release(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("release %s: quantity must be positive, got %d", productID, quantity)
	}
	query := `UPDATE products SET stock = stock + ?, sold = CASE WHEN sold >= ? THEN sold - ? ELSE 0 END WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, quantity, quantity, quantity, productID)
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
