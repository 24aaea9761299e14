package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

const tracerName = "checkout-service"

type CheckoutRequest struct {
	UserID          string               `json:"-"`
	DeliveryAddress entity.Address       `json:"delivery_address"`
	PaymentMethod   entity.PaymentMethod `json:"payment_method"`
	CouponCode      string               `json:"coupon_code,omitempty"`
	// CouponOptional lets the checkout go on without discount when the coupon
	// is rejected. By default a rejected coupon aborts the checkout.
	CouponOptional bool                `json:"coupon_optional,omitempty"`
	DeliveryMode   entity.DeliveryMode `json:"delivery_mode"`
	ScheduledFor   *time.Time          `json:"scheduled_for,omitempty"`
	Notes          string              `json:"notes,omitempty"`
}

type CheckoutResult struct {
	Order           *entity.Order `json:"order"`
	CouponRejection error         `json:"-"`
}

type ShippingItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Estimate is a priced preview of a cart or of arbitrary items.
type Estimate struct {
	ProductsValue   entity.Money `json:"products_value"`
	DiscountValue   entity.Money `json:"discount_value"`
	ShippingValue   entity.Money `json:"shipping_value"`
	Surcharge       entity.Money `json:"surcharge"`
	Total           entity.Money `json:"total"`
	WeightGrams     int          `json:"weight_grams"`
	CouponRejection string       `json:"coupon_rejection,omitempty"`
}

type CheckoutOption func(*CheckoutService)

// WithStockLedger replaces the database ledger, mostly for fault injection.
func WithStockLedger(f LedgerFactory) CheckoutOption {
	return func(s *CheckoutService) { s.ledger = f }
}

func WithClock(now func() time.Time) CheckoutOption {
	return func(s *CheckoutService) { s.now = now }
}

// WithTracerProvider traces checkouts through tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) CheckoutOption {
	return func(s *CheckoutService) { s.tracer = tp.Tracer(tracerName) }
}

// WithSurcharge sets the flat surcharge added to every order.
func WithSurcharge(m entity.Money) CheckoutOption {
	return func(s *CheckoutService) { s.surcharge = m }
}

// CheckoutService turns a cart into an order. It is the only creator of
// orders and the only caller of StockLedger.Reserve.
type CheckoutService struct {
	store     *repository.Store
	coupons   *CouponService
	shipping  *ShippingCalculator
	notifier  Notifier
	ledger    LedgerFactory
	surcharge entity.Money
	now       func() time.Time
	tracer    trace.Tracer
}

func NewCheckoutService(store *repository.Store, coupons *CouponService, shipping *ShippingCalculator, notifier Notifier, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		store:    store,
		coupons:  coupons,
		shipping: shipping,
		notifier: notifier,
		ledger:   DefaultLedger,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CheckoutService) validate(req *CheckoutRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return validationError("user_id", "is required")
	}
	a := req.DeliveryAddress
	required := []struct{ field, value string }{
		{"delivery_address.recipient", a.Recipient},
		{"delivery_address.street", a.Street},
		{"delivery_address.city", a.City},
		{"delivery_address.state", a.State},
		{"delivery_address.postal_code", a.PostalCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return validationError(r.field, "is required")
		}
	}
	if !req.PaymentMethod.Valid() {
		return validationError("payment_method", "is not supported")
	}
	if req.DeliveryMode == "" {
		req.DeliveryMode = entity.DeliveryStandard
	}
	if !req.DeliveryMode.Valid() {
		return validationError("delivery_mode", "is not supported")
	}
	if req.DeliveryMode == entity.DeliveryScheduled {
		if req.ScheduledFor == nil {
			return validationError("scheduled_for", "is required for scheduled delivery")
		}
		if !req.ScheduledFor.After(s.now()) {
			return validationError("scheduled_for", "must be in the future")
		}
	} else {
		req.ScheduledFor = nil
	}
	return nil
}

// Checkout converts the user's cart into an order in a single transaction:
// either the order, its items, the stock decrements, the coupon redemption and
// the emptied cart all become visible together, or none of them does.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (result *CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.Checkout", trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer endSpan(span, &err)

	if err := s.validate(&req); err != nil {
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(r *repository.Repos) error {
		var err error
		result, err = s.placeOrder(ctx, r, req)
		return err
	})
	err = contentionError(err)
	if err != nil {
		if KindOf(err) == "" {
			logger.Error().Err(err).Msgf("Error checking out cart of user %s", req.UserID)
			return nil, fmt.Errorf("checkout: %w", err)
		}
		logger.Warn().Err(err).Msgf("Checkout of user %s rejected", req.UserID)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", result.Order.ID))
	logger.Info().Str("order_id", result.Order.ID).Msgf("Order %s created for user %s, total %s", result.Order.OrderNumber, req.UserID, result.Order.Total)
	notify(ctx, s.notifier, entity.NewOrderEvent(entity.EventOrderCreated, result.Order, s.now().UTC()))
	return result, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, r *repository.Repos, req CheckoutRequest) (*CheckoutResult, error) {
	// 1. cart
	lines, err := r.Carts.ListByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &Error{Kind: KindValidation, Err: ErrEmptyCart}
	}

	// 2. availability against the current rows
	products, err := r.Products.GetByIDs(ctx, productIDs(lines))
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.IsSellable() {
			e := availabilityError(ErrProductUnavailable, l.ProductID, "product is no longer for sale")
			e.LineID = l.ID
			return nil, e
		}
		if p.Stock < l.Quantity {
			e := availabilityError(ErrInsufficientStock, l.ProductID, fmt.Sprintf("requested %d, available %d", l.Quantity, p.Stock))
			e.LineID = l.ID
			return nil, e
		}
	}

	now := s.now().UTC()
	order := &entity.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Status:          entity.OrderPending,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   entity.PaymentPending,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryMode:    req.DeliveryMode,
		ScheduledFor:    req.ScheduledFor,
		Surcharge:       s.surcharge,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Notes != "" {
		order.Notes = auditLine(now, "customer", req.Notes)
	}

	// 3. products value at current prices
	weight := 0
	couponLines := make([]CouponLine, 0, len(lines))
	for _, l := range lines {
		p := products[l.ProductID]
		price := p.EffectivePrice()
		item := entity.OrderItem{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			ProductID:     p.ID,
			ProductName:   p.Name,
			Quantity:      l.Quantity,
			UnitPrice:     price,
			Subtotal:      price.Mul(l.Quantity),
			Customization: l.Customization,
		}
		order.Items = append(order.Items, item)
		order.ProductsValue += item.Subtotal
		weight += p.WeightGrams * l.Quantity
		couponLines = append(couponLines, CouponLine{ProductID: p.ID, CategoryID: p.CategoryID})
	}

	// 4. coupon
	var coupon *entity.Coupon
	var rejection error
	if strings.TrimSpace(req.CouponCode) != "" {
		coupon, err = s.coupons.resolve(ctx, r, ResolveRequest{
			Code:      req.CouponCode,
			UserID:    req.UserID,
			CartValue: order.ProductsValue,
			Lines:     couponLines,
		})
		if err != nil {
			if !IsCouponError(err) || !req.CouponOptional {
				return nil, err
			}
			rejection = err
			coupon = nil
		}
	}
	if coupon != nil {
		order.CouponID = coupon.ID
		order.DiscountValue = s.coupons.CalculateDiscount(coupon, order.ProductsValue)
	}

	// 5. shipping, with the free-shipping threshold checked after discount
	if coupon == nil || coupon.Kind != entity.CouponFreeShipping {
		order.ShippingValue, err = s.shipping.Calculate(ShippingQuote{
			Address:       req.DeliveryAddress,
			WeightGrams:   weight,
			Mode:          req.DeliveryMode,
			ProductsValue: order.ProductsValue - order.DiscountValue,
		})
		if err != nil {
			return nil, err
		}
	}

	// 6. total
	order.Total = entity.ComputeTotal(order.ProductsValue, order.DiscountValue, order.ShippingValue, order.Surcharge)
	if order.Total <= 0 {
		return nil, &Error{Kind: KindValidation, Err: ErrInvalidTotal, Message: fmt.Sprintf("computed total %s", order.Total)}
	}

	// 7. order and items
	order.OrderNumber, err = r.Orders.NextOrderNumber(ctx, now.Year())
	if err != nil {
		return nil, err
	}
	if err := r.Orders.Insert(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicate) || errors.Is(err, repository.ErrConstraint) {
			return nil, consistencyError(err, "order could not be stored")
		}
		return nil, err
	}

	// 8. stock, the section that prevents overselling. Rows are locked in
	// product id order, the same order cancellations release them in.
	ledger := s.ledger(r)
	for _, it := range byProductID(order.Items) {
		err := ledger.Reserve(ctx, it.ProductID, it.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrInsufficientStock):
			return nil, availabilityError(ErrInsufficientStock, it.ProductID, fmt.Sprintf("could not reserve %d units", it.Quantity))
		case errors.Is(err, repository.ErrNotFound):
			return nil, availabilityError(ErrProductUnavailable, it.ProductID, "product does not exist")
		default:
			return nil, err
		}
	}

	// 9. coupon redemption
	if coupon != nil {
		if err := s.redeem(ctx, r, coupon, order); err != nil {
			return nil, err
		}
	}

	// 10. cart
	if _, err := r.Carts.Clear(ctx, req.UserID); err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: order, CouponRejection: rejection}, nil
}

// byProductID returns a copy of items sorted by product id. Every transaction
// that writes several product rows takes their locks in this order.
func byProductID(items []entity.OrderItem) []entity.OrderItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b entity.OrderItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}

// redeem counts the use against the coupon first. The update locks the coupon
// row, so the per-user count read afterwards sees every committed redemption.
func (s *CheckoutService) redeem(ctx context.Context, r *repository.Repos, coupon *entity.Coupon, order *entity.Order) error {
	err := r.Coupons.IncrementUses(ctx, coupon.ID)
	if errors.Is(err, repository.ErrConflict) {
		return couponError(ErrCouponExhausted, fmt.Sprintf("all %d uses were consumed", coupon.MaxTotalUses))
	}
	if err != nil {
		return err
	}

	if coupon.MaxUsesPerUser > 0 {
		used, err := r.Coupons.CountRedemptions(ctx, coupon.ID, order.UserID)
		if err != nil {
			return err
		}
		if used >= coupon.MaxUsesPerUser {
			return couponError(ErrCouponIneligible, "coupon already used")
		}
	}

	err = r.Coupons.InsertRedemption(ctx, &entity.CouponRedemption{
		ID:            uuid.NewString(),
		UserID:        order.UserID,
		CouponID:      coupon.ID,
		OrderID:       order.ID,
		DiscountValue: order.DiscountValue,
		CreatedAt:     order.CreatedAt,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return consistencyError(ErrDuplicateRedemption, fmt.Sprintf("coupon %s on order %s", coupon.Code, order.ID))
	}
	return err
}

// QuoteShipping prices delivery of arbitrary items without touching any cart.
func (s *CheckoutService) QuoteShipping(ctx context.Context, address entity.Address, items []ShippingItem, mode entity.DeliveryMode) (*Estimate, error) {
	if len(items) == 0 {
		return nil, validationError("items", "must not be empty")
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, validationError("items.quantity", "must be at least 1")
		}
		ids = append(ids, it.ProductID)
	}
	products, err := s.store.Repos().Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	est := &Estimate{Surcharge: s.surcharge}
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsSellable() {
			return nil, availabilityError(ErrProductUnavailable, it.ProductID, "product is not for sale")
		}
		est.ProductsValue += p.EffectivePrice().Mul(it.Quantity)
		est.WeightGrams += p.WeightGrams * it.Quantity
	}

	est.ShippingValue, err = s.shipping.Calculate(ShippingQuote{Address: address, WeightGrams: est.WeightGrams, Mode: mode, ProductsValue: est.ProductsValue})
	if err != nil {
		return nil, err
	}
	est.Total = entity.ComputeTotal(est.ProductsValue, est.DiscountValue, est.ShippingValue, est.Surcharge)
	return est, nil
}

// QuoteCart previews the checkout of the user's cart, coupon included. A
// rejected coupon is reported in the estimate rather than failing it.
func (s *CheckoutService) QuoteCart(ctx context.Context, userID string, address entity.Address, mode entity.DeliveryMode, couponCode string) (*Estimate, error) {
	r := s.store.Repos()
	lines, err := r.Carts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &Error{Kind: KindValidation, Err: ErrEmptyCart}
	}
	items := make([]ShippingItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, ShippingItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	est, err := s.QuoteShipping(ctx, address, items, mode)
	if err != nil || strings.TrimSpace(couponCode) == "" {
		return est, err
	}

	products, err := r.Products.GetByIDs(ctx, productIDs(lines))
	if err != nil {
		return nil, err
	}
	couponLines := make([]CouponLine, 0, len(lines))
	for _, l := range lines {
		couponLines = append(couponLines, CouponLine{ProductID: l.ProductID, CategoryID: products[l.ProductID].CategoryID})
	}
	coupon, err := s.coupons.resolve(ctx, r, ResolveRequest{Code: couponCode, UserID: userID, CartValue: est.ProductsValue, Lines: couponLines})
	if err != nil {
		if !IsCouponError(err) {
			return nil, err
		}
		est.CouponRejection = err.Error()
		return est, nil
	}

	est.DiscountValue = s.coupons.CalculateDiscount(coupon, est.ProductsValue)
	if coupon.Kind == entity.CouponFreeShipping {
		est.ShippingValue = 0
	} else {
		est.ShippingValue, err = s.shipping.Calculate(ShippingQuote{Address: address, WeightGrams: est.WeightGrams, Mode: mode, ProductsValue: est.ProductsValue - est.DiscountValue})
		if err != nil {
			return nil, err
		}
	}
	est.Total = entity.ComputeTotal(est.ProductsValue, est.DiscountValue, est.ShippingValue, est.Surcharge)
	return est, nil
}

func auditLine(at time.Time, actor, note string) string {
	return fmt.Sprintf("[%s] %s: %s", at.UTC().Format(time.RFC3339), actor, note)
}

// CouponPreview is the outcome of checking a code against the current cart.
// An order carries a single coupon; Stackable and Priority are reported so a
// client holding several codes can pick the one to apply.
type CouponPreview struct {
	Code          string       `json:"code"`
	Kind          string       `json:"kind"`
	CartValue     entity.Money `json:"cart_value"`
	DiscountValue entity.Money `json:"discount_value"`
	FreeShipping  bool         `json:"free_shipping"`
	Stackable     bool         `json:"stackable"`
	Priority      int          `json:"priority"`
}

// PreviewCoupon runs the coupon checks against the user's cart at current
// prices without reserving anything.
func (s *CheckoutService) PreviewCoupon(ctx context.Context, userID, code string) (*CouponPreview, error) {
	r := s.store.Repos()
	lines, err := r.Carts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &Error{Kind: KindValidation, Err: ErrEmptyCart}
	}
	products, err := r.Products.GetByIDs(ctx, productIDs(lines))
	if err != nil {
		return nil, err
	}

	req := ResolveRequest{Code: code, UserID: userID}
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.IsSellable() {
			return nil, availabilityError(ErrProductUnavailable, l.ProductID, "product is no longer for sale")
		}
		req.CartValue += p.EffectivePrice().Mul(l.Quantity)
		req.Lines = append(req.Lines, CouponLine{ProductID: p.ID, CategoryID: p.CategoryID})
	}

	coupon, err := s.coupons.resolve(ctx, r, req)
	if err != nil {
		return nil, err
	}
	return &CouponPreview{
		Code:          coupon.Code,
		Kind:          string(coupon.Kind),
		CartValue:     req.CartValue,
		DiscountValue: s.coupons.CalculateDiscount(coupon, req.CartValue),
		FreeShipping:  coupon.Kind == entity.CouponFreeShipping,
		Stackable:     coupon.Stackable,
		Priority:      coupon.Priority,
	}, nil
}
