package repository

import (
	"context"

	"checkout-service/internal/entity"
)

const cartColumns = `id, user_id, product_id, quantity, captured_unit_price, customization, created_at, updated_at`

type CartRepository struct {
	db DBTX
}

func NewCartRepository(db DBTX) *CartRepository {
	return &CartRepository{db}
}

func scanCartLine(row scanner) (*entity.CartLine, error) {
	l := &entity.CartLine{}
	err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.CapturedUnitPrice, &l.Customization, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

// ListByUser returns the user's lines in insertion order.
func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]*entity.CartLine, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_lines WHERE user_id = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*entity.CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *CartRepository) Get(ctx context.Context, userID, productID string) (*entity.CartLine, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_lines WHERE user_id = ? AND product_id = ?`
	l, err := scanCartLine(r.db.QueryRowContext(ctx, query, userID, productID))
	if err != nil {
		return nil, translateError(err)
	}
	return l, nil
}

func (r *CartRepository) Insert(ctx context.Context, l *entity.CartLine) error {
	query := `INSERT INTO cart_lines (` + cartColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, l.ID, l.UserID, l.ProductID, l.Quantity, l.CapturedUnitPrice, l.Customization, l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	return translateError(err)
}

// Update rewrites the mutable fields of a line.
func (r *CartRepository) Update(ctx context.Context, l *entity.CartLine) error {
	query := `UPDATE cart_lines SET quantity = ?, captured_unit_price = ?, customization = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, l.Quantity, l.CapturedUnitPrice, l.Customization, l.UpdatedAt.UTC(), l.ID)
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

func (r *CartRepository) Delete(ctx context.Context, userID, productID string) error {
	query := `DELETE FROM cart_lines WHERE user_id = ? AND product_id = ?`
	res, err := r.db.ExecContext(ctx, query, userID, productID)
	if err != nil {
		return err
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

func (r *CartRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = ?`, id)
	return err
}

// Clear removes every line of the user and reports how many were removed.
func (r *CartRepository) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
