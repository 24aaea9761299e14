package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"checkout-service/internal/entity"
	"checkout-service/internal/service"
)

// JwtCustomClaims are issued by the identity service.
type JwtCustomClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Admin  bool   `json:"admin"`
	jwt.RegisteredClaims
}

// JWTMiddleware validates HS256 tokens and stores *JwtCustomClaims on the context.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(secret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(JwtCustomClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		},
	})
}

type Handler struct {
	carts       *service.CartService
	checkout    *service.CheckoutService
	orders      *service.OrderService
	stock       *service.StockCache
	idempotency *service.IdempotencyGuard
}

func NewHandler(carts *service.CartService, checkout *service.CheckoutService, orders *service.OrderService, stock *service.StockCache, idempotency *service.IdempotencyGuard) *Handler {
	return &Handler{carts: carts, checkout: checkout, orders: orders, stock: stock, idempotency: idempotency}
}

// Register mounts every route. auth guards everything except /health.
func (h *Handler) Register(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"status":  "ok",
			"service": "checkout-service",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	g := e.Group("", auth)

	g.GET("/products/low-stock", h.LowStock, adminOnly)
	g.GET("/products/:id/stock", h.GetProductStock)

	g.GET("/cart", h.GetCart)
	g.POST("/cart/items", h.AddItem)
	g.PUT("/cart/items/:productId", h.UpdateItem)
	g.DELETE("/cart/items/:productId", h.RemoveItem)
	g.DELETE("/cart", h.ClearCart)
	g.GET("/cart/validate", h.ValidateCart)
	g.POST("/cart/fix", h.FixCart)

	g.POST("/shipping/quote", h.QuoteShipping)
	g.POST("/coupons/validate", h.ValidateCoupon)
	g.POST("/checkout", h.Checkout)

	g.GET("/orders/:id", h.GetOrder)
	g.PUT("/orders/:id/status", h.AdvanceOrder, adminOnly)
	g.POST("/orders/:id/cancel", h.CancelOrder)
	g.POST("/orders/:id/refund", h.RefundOrder, adminOnly)
	g.PUT("/orders/:id/payment", h.SetPaymentStatus, adminOnly)
	g.POST("/orders/:id/confirm-delivery", h.ConfirmDelivery)
}

func claimsOf(c echo.Context) *JwtCustomClaims {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return nil
	}
	claims, _ := token.Claims.(*JwtCustomClaims)
	return claims
}

func userID(c echo.Context) string {
	if claims := claimsOf(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func isAdmin(c echo.Context) bool {
	claims := claimsOf(c)
	return claims != nil && claims.Admin
}

func adminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !isAdmin(c) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "admin only"})
		}
		return next(c)
	}
}

// writeError maps service errors to status codes. Anything that is not a
// *service.Error is an infrastructure failure.
func writeError(c echo.Context, err error) error {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		log.Error().Err(err).Msgf("%s %s failed", c.Request().Method, c.Path())
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	code := http.StatusInternalServerError
	switch svcErr.Kind {
	case service.KindValidation:
		code = http.StatusBadRequest
	case service.KindNotFound:
		code = http.StatusNotFound
	case service.KindAvailability, service.KindState, service.KindConsistency:
		code = http.StatusConflict
	case service.KindCoupon:
		code = http.StatusUnprocessableEntity
	}
	if errors.Is(err, service.ErrForbidden) {
		code = http.StatusForbidden
	}

	body := map[string]string{"error": svcErr.Error(), "kind": string(svcErr.Kind)}
	if svcErr.ProductID != "" {
		body["product_id"] = svcErr.ProductID
	}
	if svcErr.Field != "" {
		body["field"] = svcErr.Field
	}
	return c.JSON(code, body)
}

// GetProductStock --> /products/:id/stock
func (h *Handler) GetProductStock(c echo.Context) error {
	snap, err := h.stock.GetStock(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, snap)
}

// LowStock --> /products/low-stock
func (h *Handler) LowStock(c echo.Context) error {
	snaps, err := h.stock.LowStock(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, snaps)
}

type cartResponse struct {
	Lines  []*entity.CartLine `json:"lines"`
	Totals entity.CartTotals  `json:"totals"`
}

// GetCart --> /cart
func (h *Handler) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	lines, err := h.carts.Lines(ctx, userID(c))
	if err != nil {
		return writeError(c, err)
	}
	totals, err := h.carts.Totals(ctx, userID(c))
	if err != nil {
		return writeError(c, err)
	}
	if lines == nil {
		lines = []*entity.CartLine{}
	}
	return c.JSON(200, cartResponse{Lines: lines, Totals: totals})
}

// AddItem --> POST /cart/items
func (h *Handler) AddItem(c echo.Context) error {
	req := struct {
		ProductID     string `json:"product_id"`
		Quantity      int    `json:"quantity"`
		Customization string `json:"customization"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	line, err := h.carts.AddItem(c.Request().Context(), userID(c), req.ProductID, req.Quantity, req.Customization)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, line)
}

// UpdateItem --> PUT /cart/items/:productId
func (h *Handler) UpdateItem(c echo.Context) error {
	req := struct {
		Quantity int `json:"quantity"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	line, err := h.carts.UpdateQuantity(c.Request().Context(), userID(c), c.Param("productId"), req.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	if line == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(200, line)
}

// RemoveItem --> DELETE /cart/items/:productId
func (h *Handler) RemoveItem(c echo.Context) error {
	if err := h.carts.RemoveItem(c.Request().Context(), userID(c), c.Param("productId")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearCart --> DELETE /cart
func (h *Handler) ClearCart(c echo.Context) error {
	if err := h.carts.Clear(c.Request().Context(), userID(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateCart --> GET /cart/validate
func (h *Handler) ValidateCart(c echo.Context) error {
	issues, err := h.carts.Validate(c.Request().Context(), userID(c))
	if err != nil {
		return writeError(c, err)
	}
	if issues == nil {
		issues = []entity.CartIssue{}
	}
	return c.JSON(200, map[string]interface{}{"valid": len(issues) == 0, "issues": issues})
}

// FixCart --> POST /cart/fix
func (h *Handler) FixCart(c echo.Context) error {
	applied, err := h.carts.Fix(c.Request().Context(), userID(c))
	if err != nil {
		return writeError(c, err)
	}
	if applied == nil {
		applied = []entity.CartIssue{}
	}
	return c.JSON(200, map[string]interface{}{"applied": applied})
}

// QuoteShipping --> POST /shipping/quote. Without items the user's cart is quoted.
func (h *Handler) QuoteShipping(c echo.Context) error {
	req := struct {
		DeliveryAddress entity.Address         `json:"delivery_address"`
		DeliveryMode    entity.DeliveryMode    `json:"delivery_mode"`
		Items           []service.ShippingItem `json:"items"`
		CouponCode      string                 `json:"coupon_code"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}
	if req.DeliveryMode == "" {
		req.DeliveryMode = entity.DeliveryStandard
	}

	ctx := c.Request().Context()
	var (
		est *service.Estimate
		err error
	)
	if len(req.Items) > 0 {
		est, err = h.checkout.QuoteShipping(ctx, req.DeliveryAddress, req.Items, req.DeliveryMode)
	} else {
		est, err = h.checkout.QuoteCart(ctx, userID(c), req.DeliveryAddress, req.DeliveryMode, req.CouponCode)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, est)
}

// ValidateCoupon --> POST /coupons/validate
func (h *Handler) ValidateCoupon(c echo.Context) error {
	req := struct {
		Code string `json:"code"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	preview, err := h.checkout.PreviewCoupon(c.Request().Context(), userID(c), req.Code)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, preview)
}

type checkoutResponse struct {
	Order           *entity.Order `json:"order"`
	CouponRejection string        `json:"coupon_rejection,omitempty"`
	Replayed        bool          `json:"replayed,omitempty"`
}

// Checkout --> POST /checkout. An Idempotency-Key header makes retries return
// the order placed by the first request.
func (h *Handler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	req := service.CheckoutRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}
	req.UserID = userID(c)

	key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		acquired, orderID, err := h.idempotency.Acquire(ctx, req.UserID, key)
		if err != nil {
			return writeError(c, err)
		}
		if !acquired {
			if orderID == "" {
				return c.JSON(http.StatusConflict, map[string]string{"error": "checkout with this idempotency key is in progress"})
			}
			order, err := h.orders.GetOrder(ctx, orderID)
			if err != nil {
				return writeError(c, err)
			}
			return c.JSON(200, checkoutResponse{Order: order, Replayed: true})
		}
	}

	result, err := h.checkout.Checkout(ctx, req)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if rerr := h.idempotency.Release(ctx, req.UserID, key); rerr != nil {
				log.Error().Err(rerr).Msgf("Error releasing idempotency key %s", key)
			}
		}
		return writeError(c, err)
	}

	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Complete(ctx, req.UserID, key, result.Order.ID); err != nil {
			log.Error().Err(err).Msgf("Error storing idempotency key %s", key)
		}
	}

	resp := checkoutResponse{Order: result.Order}
	if result.CouponRejection != nil {
		resp.CouponRejection = result.CouponRejection.Error()
	}
	return c.JSON(http.StatusCreated, resp)
}

// ownedOrder loads an order the caller may see: their own, or any for admins.
func (h *Handler) ownedOrder(c echo.Context) (*entity.Order, error) {
	order, err := h.orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if order.UserID != userID(c) && !isAdmin(c) {
		return nil, &service.Error{Kind: service.KindNotFound, Err: service.ErrNotFound, Message: "order " + c.Param("id")}
	}
	return order, nil
}

// GetOrder --> GET /orders/:id
func (h *Handler) GetOrder(c echo.Context) error {
	order, err := h.ownedOrder(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, order)
}

// AdvanceOrder --> PUT /orders/:id/status
func (h *Handler) AdvanceOrder(c echo.Context) error {
	req := struct {
		Status   entity.OrderStatus `json:"status"`
		Override bool               `json:"override"`
		Note     string             `json:"note"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	order, err := h.orders.Advance(c.Request().Context(), c.Param("id"), req.Status, service.AdvanceOptions{
		Override: req.Override,
		Actor:    userID(c),
		Note:     req.Note,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, order)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder --> POST /orders/:id/cancel
func (h *Handler) CancelOrder(c echo.Context) error {
	req := reasonRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}
	if _, err := h.ownedOrder(c); err != nil {
		return writeError(c, err)
	}

	order, err := h.orders.Cancel(c.Request().Context(), c.Param("id"), req.Reason, userID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, order)
}

// RefundOrder --> POST /orders/:id/refund
func (h *Handler) RefundOrder(c echo.Context) error {
	req := reasonRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	order, err := h.orders.Refund(c.Request().Context(), c.Param("id"), req.Reason, userID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, order)
}

// SetPaymentStatus --> PUT /orders/:id/payment
func (h *Handler) SetPaymentStatus(c echo.Context) error {
	req := struct {
		Status entity.PaymentStatus `json:"status"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	order, err := h.orders.SetPaymentStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, order)
}

// ConfirmDelivery --> POST /orders/:id/confirm-delivery
func (h *Handler) ConfirmDelivery(c echo.Context) error {
	req := struct {
		Rating  *int   `json:"rating"`
		Comment string `json:"comment"`
	}{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	order, err := h.orders.ConfirmDelivery(c.Request().Context(), c.Param("id"), userID(c), req.Rating, req.Comment)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(200, order)
}
