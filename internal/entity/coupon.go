package entity

import (
	"slices"
	"time"
)

type CouponKind string

const (
	CouponPercentage   CouponKind = "percentage"
	CouponFixedAmount  CouponKind = "fixedAmount"
	CouponFreeShipping CouponKind = "freeShipping"
)

func (k CouponKind) Valid() bool {
	switch k {
	case CouponPercentage, CouponFixedAmount, CouponFreeShipping:
		return true
	}
	return false
}

// Coupon is a promotional code. Value is in percent points for percentage
// coupons and in cents for fixed-amount coupons. Zero caps mean unlimited.
type Coupon struct {
	ID                  string     `json:"id"`
	Code                string     `json:"code"`
	Kind                CouponKind `json:"kind"`
	Value               int64      `json:"value"`
	MinOrderValue       Money      `json:"min_order_value"`
	MaxDiscountCap      Money      `json:"max_discount_cap"`
	MaxTotalUses        int        `json:"max_total_uses"`
	CurrentUses         int        `json:"current_uses"`
	MaxUsesPerUser      int        `json:"max_uses_per_user"`
	ValidFrom           *time.Time `json:"valid_from,omitempty"`
	ValidUntil          *time.Time `json:"valid_until,omitempty"`
	Enabled             bool       `json:"enabled"`
	ProductIDs          []string   `json:"product_ids,omitempty"`
	ExcludedProductIDs  []string   `json:"excluded_product_ids,omitempty"`
	CategoryIDs         []string   `json:"category_ids,omitempty"`
	ExcludedCategoryIDs []string   `json:"excluded_category_ids,omitempty"`
	UserIDs             []string   `json:"user_ids,omitempty"`
	ExcludedUserIDs     []string   `json:"excluded_user_ids,omitempty"`
	FirstPurchaseOnly   bool       `json:"first_purchase_only"`
	Stackable           bool       `json:"stackable"`
	Priority            int        `json:"priority"`
}

func (c *Coupon) InWindow(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

func (c *Coupon) Exhausted() bool {
	return c.MaxTotalUses > 0 && c.CurrentUses >= c.MaxTotalUses
}

// IsValidForUser checks the allow and deny lists. An empty allow list admits everyone.
func (c *Coupon) IsValidForUser(userID string) bool {
	if slices.Contains(c.ExcludedUserIDs, userID) {
		return false
	}
	return len(c.UserIDs) == 0 || slices.Contains(c.UserIDs, userID)
}

// IsValidForProduct checks the product and category scope of the coupon.
// When both inclusion lists are set, matching either one is enough.
func (c *Coupon) IsValidForProduct(productID, categoryID string) bool {
	if slices.Contains(c.ExcludedProductIDs, productID) {
		return false
	}
	if categoryID != "" && slices.Contains(c.ExcludedCategoryIDs, categoryID) {
		return false
	}
	if len(c.ProductIDs) == 0 && len(c.CategoryIDs) == 0 {
		return true
	}
	return slices.Contains(c.ProductIDs, productID) ||
		(categoryID != "" && slices.Contains(c.CategoryIDs, categoryID))
}

type CouponRedemption struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	CouponID      string    `json:"coupon_id"`
	OrderID       string    `json:"order_id"`
	DiscountValue Money     `json:"discount_value"`
	CreatedAt     time.Time `json:"created_at"`
}

/*
Schema:
CREATE TABLE coupons (... code VARCHAR(64) NOT NULL UNIQUE ...);
CREATE TABLE coupon_redemptions (
	...
	UNIQUE (user_id, coupon_id, order_id)
);
*/
