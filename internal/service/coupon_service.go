package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

type ResolveRequest struct {
	Code      string
	UserID    string
	CartValue entity.Money
	Lines     []CouponLine
}

// CouponLine is the part of a cart line the coupon scope looks at.
type CouponLine struct {
	ProductID  string
	CategoryID string
}

// CouponService validates coupon codes and prices their discount.
type CouponService struct {
	store *repository.Store
	now   func() time.Time
}

func NewCouponService(store *repository.Store, now func() time.Time) *CouponService {
	if now == nil {
		now = time.Now
	}
	return &CouponService{store: store, now: now}
}

// Resolve validates a code outside of any checkout, e.g. for a cart preview.
func (s *CouponService) Resolve(ctx context.Context, req ResolveRequest) (*entity.Coupon, error) {
	return s.resolve(ctx, s.store.Repos(), req)
}

// resolve runs the checks in order and stops at the first failure.
func (s *CouponService) resolve(ctx context.Context, r *repository.Repos, req ResolveRequest) (*entity.Coupon, error) {
	code := repository.NormalizeCode(req.Code)
	if code == "" {
		return nil, validationError("coupon_code", "is required")
	}

	coupon, err := r.Coupons.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, couponError(ErrCouponNotFound, fmt.Sprintf("code %s does not exist", code))
		}
		logger.Error().Err(err).Msgf("Error getting coupon %s", code)
		return nil, err
	}
	if !coupon.Enabled {
		return nil, couponError(ErrCouponNotFound, fmt.Sprintf("code %s is disabled", code))
	}

	now := s.now()
	if !coupon.InWindow(now) {
		if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
			return nil, couponError(ErrCouponExpired, "coupon is not valid yet")
		}
		return nil, couponError(ErrCouponExpired, "coupon validity has ended")
	}

	if coupon.Exhausted() {
		return nil, couponError(ErrCouponExhausted, fmt.Sprintf("all %d uses were consumed", coupon.MaxTotalUses))
	}

	if req.CartValue < coupon.MinOrderValue {
		return nil, couponError(ErrCouponIneligible, fmt.Sprintf("minimum order value is %s", coupon.MinOrderValue))
	}

	if !coupon.IsValidForUser(req.UserID) {
		return nil, couponError(ErrCouponIneligible, "coupon is not available for this user")
	}

	if coupon.MaxUsesPerUser > 0 {
		used, err := r.Coupons.CountRedemptions(ctx, coupon.ID, req.UserID)
		if err != nil {
			logger.Error().Err(err).Msgf("Error counting redemptions of coupon %s", coupon.ID)
			return nil, err
		}
		if used >= coupon.MaxUsesPerUser {
			return nil, couponError(ErrCouponIneligible, "coupon already used")
		}
	}

	if coupon.FirstPurchaseOnly {
		orders, err := r.Orders.CountActiveByUser(ctx, req.UserID)
		if err != nil {
			logger.Error().Err(err).Msgf("Error counting orders of user %s", req.UserID)
			return nil, err
		}
		if orders > 0 {
			return nil, couponError(ErrCouponIneligible, "coupon is valid on the first purchase only")
		}
	}

	// Scope is checked at cart level: every line must be eligible.
	for _, line := range req.Lines {
		if !coupon.IsValidForProduct(line.ProductID, line.CategoryID) {
			e := couponError(ErrCouponIneligible, "coupon does not apply to every item in the cart")
			e.ProductID = line.ProductID
			return nil, e
		}
	}

	return coupon, nil
}

// CalculateDiscount prices the coupon against cartValue. The result never
// exceeds cartValue. Free shipping coupons discount nothing here; the
// shipping line is zeroed instead.
func (s *CouponService) CalculateDiscount(coupon *entity.Coupon, cartValue entity.Money) entity.Money {
	if coupon == nil || cartValue <= 0 {
		return 0
	}

	var discount entity.Money
	switch coupon.Kind {
	case entity.CouponPercentage:
		discount = cartValue.Percent(decimal.NewFromInt(coupon.Value))
		if coupon.MaxDiscountCap > 0 {
			discount = discount.Min(coupon.MaxDiscountCap)
		}
	case entity.CouponFixedAmount:
		discount = entity.Money(coupon.Value)
	case entity.CouponFreeShipping:
		return 0
	}

	if discount < 0 {
		return 0
	}
	return discount.Min(cartValue)
}
