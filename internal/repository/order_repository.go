package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/entity"
)

const orderColumns = `id, order_number, user_id, status, products_value, shipping_value, discount_value, surcharge, total,
	payment_method, payment_status, delivery_address, delivery_mode, scheduled_for, coupon_id, notes, cancel_reason,
	delivery_confirmed, rating, feedback, created_at, updated_at, confirmed_at, preparing_at, shipped_at, delivered_at, cancelled_at`

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db}
}

// NextOrderNumber allocates the next sequential number of the given year,
// formatted as YYYY-NNNNNN. It must run inside the transaction that inserts
// the order so a rolled back checkout does not burn a number.
func (r *OrderRepository) NextOrderNumber(ctx context.Context, year int) (string, error) {
	bump := `UPDATE order_sequences SET last_value = last_value + 1 WHERE order_year = ?`
	res, err := r.db.ExecContext(ctx, bump, year)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		_, err = r.db.ExecContext(ctx, `INSERT INTO order_sequences (order_year, last_value) VALUES (?, 1)`, year)
		if err = translateError(err); errors.Is(err, ErrDuplicate) {
			// another checkout opened the year first
			_, err = r.db.ExecContext(ctx, bump, year)
		}
		if err != nil {
			return "", err
		}
	}

	var last int
	err = r.db.QueryRowContext(ctx, `SELECT last_value FROM order_sequences WHERE order_year = ?`, year).Scan(&last)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d-%06d", year, last), nil
}

// Insert writes the order and all of its items.
func (r *OrderRepository) Insert(ctx context.Context, o *entity.Order) error {
	if len(o.Items) == 0 {
		return fmt.Errorf("order %s: %w: no items", o.ID, ErrConstraint)
	}
	address, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return err
	}
	var couponID sql.NullString
	if o.CouponID != "" {
		couponID = sql.NullString{String: o.CouponID, Valid: true}
	}
	var rating sql.NullInt64
	if o.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*o.Rating), Valid: true}
	}

	orderQuery := `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, orderQuery,
		o.ID, o.OrderNumber, o.UserID, string(o.Status), o.ProductsValue, o.ShippingValue, o.DiscountValue, o.Surcharge, o.Total,
		string(o.PaymentMethod), string(o.PaymentStatus), string(address), string(o.DeliveryMode), nullTime(o.ScheduledFor), couponID, o.Notes, o.CancelReason,
		o.DeliveryConfirmed, rating, o.Feedback, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
		nullTime(o.ConfirmedAt), nullTime(o.PreparingAt), nullTime(o.ShippedAt), nullTime(o.DeliveredAt), nullTime(o.CancelledAt))
	if err != nil {
		return translateError(err)
	}

	// Insert items with batch
	itemQuery := `INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, subtotal, customization) VALUES `
	var values []any
	for _, it := range o.Items {
		itemQuery += "(?, ?, ?, ?, ?, ?, ?, ?),"
		values = append(values, it.ID, o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.Subtotal, it.Customization)
	}
	itemQuery = itemQuery[:len(itemQuery)-1]

	_, err = r.db.ExecContext(ctx, itemQuery, values...)
	return translateError(err)
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	o := &entity.Order{}
	var address string
	var scheduledFor, confirmedAt, preparingAt, shippedAt, deliveredAt, cancelledAt sql.NullTime
	var couponID sql.NullString
	var rating sql.NullInt64

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.ProductsValue, &o.ShippingValue, &o.DiscountValue, &o.Surcharge, &o.Total,
		&o.PaymentMethod, &o.PaymentStatus, &address, &o.DeliveryMode, &scheduledFor, &couponID, &o.Notes, &o.CancelReason,
		&o.DeliveryConfirmed, &rating, &o.Feedback, &o.CreatedAt, &o.UpdatedAt,
		&confirmedAt, &preparingAt, &shippedAt, &deliveredAt, &cancelledAt)
	if err != nil {
		return nil, translateError(err)
	}
	if err := json.Unmarshal([]byte(address), &o.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("order %s: decode address: %w", id, err)
	}
	o.CouponID = couponID.String
	if rating.Valid {
		v := int(rating.Int64)
		o.Rating = &v
	}
	o.ScheduledFor = timePtr(scheduledFor)
	o.ConfirmedAt = timePtr(confirmedAt)
	o.PreparingAt = timePtr(preparingAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CancelledAt = timePtr(cancelledAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()

	itemQuery := `SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal, customization FROM order_items WHERE order_id = ? ORDER BY product_name, id`
	rows, err := r.db.QueryContext(ctx, itemQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		it := entity.OrderItem{}
		err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal, &it.Customization)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// CountActiveByUser counts the user's orders that were not cancelled or refunded.
func (r *OrderRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM orders WHERE user_id = ? AND status NOT IN (?, ?)`
	err := r.db.QueryRowContext(ctx, query, userID, string(entity.OrderCancelled), string(entity.OrderRefunded)).Scan(&count)
	return count, err
}

// Transition persists a status change of o, but only while the stored status
// still equals from. ErrConflict means another transition won the race.
func (r *OrderRepository) Transition(ctx context.Context, o *entity.Order, from entity.OrderStatus) error {
	query := `UPDATE orders SET status = ?, payment_status = ?, notes = ?, cancel_reason = ?, updated_at = ?,
		confirmed_at = ?, preparing_at = ?, shipped_at = ?, delivered_at = ?, cancelled_at = ?
		WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, string(o.Status), string(o.PaymentStatus), o.Notes, o.CancelReason, o.UpdatedAt.UTC(),
		nullTime(o.ConfirmedAt), nullTime(o.PreparingAt), nullTime(o.ShippedAt), nullTime(o.DeliveredAt), nullTime(o.CancelledAt),
		o.ID, string(from))
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ConfirmDelivery stores the customer's feedback once, for delivered orders only.
func (r *OrderRepository) ConfirmDelivery(ctx context.Context, id string, rating *int, feedback string, at time.Time) error {
	var rt sql.NullInt64
	if rating != nil {
		rt = sql.NullInt64{Int64: int64(*rating), Valid: true}
	}
	query := `UPDATE orders SET delivery_confirmed = ?, rating = ?, feedback = ?, updated_at = ?
		WHERE id = ? AND status = ? AND delivery_confirmed = ?`
	res, err := r.db.ExecContext(ctx, query, true, rt, feedback, at.UTC(), id, string(entity.OrderDelivered), false)
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, status entity.PaymentStatus, at time.Time) error {
	query := `UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(status), at.UTC(), id)
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
