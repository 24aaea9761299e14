package repository

import (
	"context"
	"database/sql"
	"strings"

	"checkout-service/internal/entity"
)

const couponColumns = `id, code, kind, amount, min_order_value, max_discount_cap, max_total_uses, current_uses, max_uses_per_user,
	valid_from, valid_until, enabled, product_ids, excluded_product_ids, category_ids, excluded_category_ids,
	user_ids, excluded_user_ids, first_purchase_only, stackable, priority`

type CouponRepository struct {
	db DBTX
}

func NewCouponRepository(db DBTX) *CouponRepository {
	return &CouponRepository{db}
}

// NormalizeCode is the canonical form codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func scanCoupon(row scanner) (*entity.Coupon, error) {
	c := &entity.Coupon{}
	var validFrom, validUntil sql.NullTime
	var products, exProducts, categories, exCategories, users, exUsers string
	err := row.Scan(&c.ID, &c.Code, &c.Kind, &c.Value, &c.MinOrderValue, &c.MaxDiscountCap, &c.MaxTotalUses, &c.CurrentUses, &c.MaxUsesPerUser,
		&validFrom, &validUntil, &c.Enabled, &products, &exProducts, &categories, &exCategories,
		&users, &exUsers, &c.FirstPurchaseOnly, &c.Stackable, &c.Priority)
	if err != nil {
		return nil, err
	}
	c.ValidFrom = timePtr(validFrom)
	c.ValidUntil = timePtr(validUntil)

	lists := []struct {
		raw string
		dst *[]string
	}{
		{products, &c.ProductIDs},
		{exProducts, &c.ExcludedProductIDs},
		{categories, &c.CategoryIDs},
		{exCategories, &c.ExcludedCategoryIDs},
		{users, &c.UserIDs},
		{exUsers, &c.ExcludedUserIDs},
	}
	for _, l := range lists {
		if *l.dst, err = decodeList(l.raw); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (r *CouponRepository) Create(ctx context.Context, c *entity.Coupon) error {
	query := `INSERT INTO coupons (` + couponColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, NormalizeCode(c.Code), string(c.Kind), c.Value, c.MinOrderValue, c.MaxDiscountCap, c.MaxTotalUses, c.CurrentUses, c.MaxUsesPerUser,
		nullTime(c.ValidFrom), nullTime(c.ValidUntil), c.Enabled,
		encodeList(c.ProductIDs), encodeList(c.ExcludedProductIDs), encodeList(c.CategoryIDs), encodeList(c.ExcludedCategoryIDs),
		encodeList(c.UserIDs), encodeList(c.ExcludedUserIDs), c.FirstPurchaseOnly, c.Stackable, c.Priority)
	return translateError(err)
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*entity.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = ?`
	c, err := scanCoupon(r.db.QueryRowContext(ctx, query, NormalizeCode(code)))
	if err != nil {
		return nil, translateError(err)
	}
	return c, nil
}

func (r *CouponRepository) GetByID(ctx context.Context, id string) (*entity.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = ?`
	c, err := scanCoupon(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return c, nil
}

// IncrementUses counts one redemption against the coupon, refusing to go past
// max_total_uses. ErrConflict means the cap was reached by someone else.
func (r *CouponRepository) IncrementUses(ctx context.Context, couponID string) error {
	query := `UPDATE coupons SET current_uses = current_uses + 1
		WHERE id = ? AND (max_total_uses = 0 OR current_uses < max_total_uses)`
	res, err := r.db.ExecContext(ctx, query, couponID)
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

// CountRedemptions counts how many times the user redeemed the coupon.
func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ? AND user_id = ?`
	err := r.db.QueryRowContext(ctx, query, couponID, userID).Scan(&count)
	return count, err
}

// InsertRedemption records a redemption. Replaying the same (user, coupon,
// order) triple fails with ErrDuplicate.
func (r *CouponRepository) InsertRedemption(ctx context.Context, red *entity.CouponRedemption) error {
	query := `INSERT INTO coupon_redemptions (id, user_id, coupon_id, order_id, discount_value, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, red.ID, red.UserID, red.CouponID, red.OrderID, red.DiscountValue, red.CreatedAt.UTC())
	return translateError(err)
}
