package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/config"
	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
	"checkout-service/internal/service"
	"checkout-service/internal/testdb"
)

const testSecret = "test-secret"

type testServer struct {
	e     *echo.Echo
	store *repository.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := testdb.Store(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	coupons := service.NewCouponService(store, time.Now)
	shipping := service.NewShippingCalculator(config.ShippingConfig{BaseFee: 1500, WeightThresholdGrams: 1000, FeePerKg: 500, FreeShippingThreshold: 15000})
	notifier := service.NopNotifier{}
	h := NewHandler(
		service.NewCartService(store, time.Now),
		service.NewCheckoutService(store, coupons, shipping, notifier),
		service.NewOrderService(store, notifier, service.DefaultLedger, time.Now),
		service.NewStockCache(store, rdb, time.Minute),
		service.NewIdempotencyGuard(rdb, time.Hour, time.Minute),
	)

	e := echo.New()
	h.Register(e, JWTMiddleware(testSecret))
	return &testServer{e: e, store: store}
}

func token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	claims := &JwtCustomClaims{
		UserID: userID,
		Name:   "Test User",
		Admin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, tok, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) product(t *testing.T, price entity.Money, stock int) *entity.Product {
	t.Helper()
	p := &entity.Product{ID: uuid.NewString(), Name: "Mug", CategoryID: "kitchen", Price: price, Stock: stock, StockMinimum: 1, WeightGrams: 300, Active: true, AvailableForSale: true}
	require.NoError(t, s.store.Repos().Products.Create(context.Background(), p))
	return p
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

const checkoutBody = `{"delivery_address":{"recipient":"Ana","street":"Rua A","number":"1","city":"Recife","state":"PE","postal_code":"50000-000"},"payment_method":"pix"}`

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/cart", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/cart", "garbage", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/cart", token(t, "u1", false), "").Code)
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "u1", false)
	p := s.product(t, 1000, 3)

	rec := s.do(t, http.MethodPost, "/cart/items", tok, `{"product_id":"`+p.ID+`","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/cart/items", tok, `{"product_id":"`+p.ID+`","quantity":2}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "availability", body["kind"])
	assert.Equal(t, p.ID, body["product_id"])

	rec = s.do(t, http.MethodPost, "/cart/items", tok, `{"product_id":"`+p.ID+`","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/cart/items/"+p.ID, tok, `{"quantity":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/cart", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cart cartResponse
	decode(t, rec, &cart)
	assert.Len(t, cart.Lines, 1)
	assert.Equal(t, entity.Money(3000), cart.Totals.Subtotal)

	rec = s.do(t, http.MethodGet, "/cart/validate", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = s.do(t, http.MethodPost, "/cart/fix", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied":[]`)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/cart/items/"+p.ID, tok, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/cart/items/"+p.ID, tok, "").Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/cart", tok, "").Code)
}

func TestCheckoutIdempotencyAndLifecycle(t *testing.T) {
	s := newTestServer(t)
	owner := token(t, "u1", false)
	other := token(t, "u2", false)
	admin := token(t, "admin-1", true)
	p := s.product(t, 2000, 5)

	rec := s.do(t, http.MethodPost, "/checkout", owner, checkoutBody)
	require.Equal(t, http.StatusBadRequest, rec.Code, "empty cart")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/cart/items", owner, `{"product_id":"`+p.ID+`","quantity":2}`).Code)

	rec = s.do(t, http.MethodPost, "/checkout", owner, checkoutBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first checkoutResponse
	decode(t, rec, &first)
	assert.Equal(t, entity.Money(5500), first.Order.Total)

	rec = s.do(t, http.MethodPost, "/checkout", owner, checkoutBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	var replay checkoutResponse
	decode(t, rec, &replay)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Order.ID, replay.Order.ID)

	orderPath := "/orders/" + first.Order.ID
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, orderPath, owner, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, orderPath, other, "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, orderPath, admin, "").Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, orderPath+"/status", owner, `{"status":"confirmed"}`).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, orderPath+"/status", admin, `{"status":"confirmed"}`).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPut, orderPath+"/status", admin, `{"status":"shipped"}`).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, orderPath+"/payment", admin, `{"status":"approved"}`).Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, orderPath+"/cancel", other, `{"reason":"not mine"}`).Code)
	rec = s.do(t, http.MethodPost, orderPath+"/cancel", owner, `{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, orderPath+"/cancel", owner, `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "state", body["kind"])

	rec = s.do(t, http.MethodGet, "/products/"+p.ID+"/stock", owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap service.StockSnapshot
	decode(t, rec, &snap)
	assert.Equal(t, 5, snap.Stock)
}

func TestConfirmDeliveryEndpoint(t *testing.T) {
	s := newTestServer(t)
	owner := token(t, "u1", false)
	admin := token(t, "admin-1", true)
	p := s.product(t, 2000, 5)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/cart/items", owner, `{"product_id":"`+p.ID+`","quantity":1}`).Code)

	rec := s.do(t, http.MethodPost, "/checkout", owner, checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var res checkoutResponse
	decode(t, rec, &res)
	orderPath := "/orders/" + res.Order.ID

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, orderPath+"/status", admin, `{"status":"delivered","override":true}`).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, orderPath+"/confirm-delivery", admin, `{"rating":5}`).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, orderPath+"/confirm-delivery", owner, `{"rating":5,"comment":"fast"}`).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, orderPath+"/refund", admin, `{"reason":"late"}`).Code)
}

func TestCouponAndShippingEndpoints(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "u1", false)
	p := s.product(t, 4000, 5)
	require.NoError(t, s.store.Repos().Coupons.Create(context.Background(), &entity.Coupon{
		ID: uuid.NewString(), Code: "SAVE10", Kind: entity.CouponPercentage, Value: 10, MinOrderValue: 5000, Enabled: true,
	}))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/cart/items", tok, `{"product_id":"`+p.ID+`","quantity":1}`).Code)

	rec := s.do(t, http.MethodPost, "/coupons/validate", tok, `{"code":"save10"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "coupon", body["kind"])

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/cart/items/"+p.ID, tok, `{"quantity":2}`).Code)
	rec = s.do(t, http.MethodPost, "/coupons/validate", tok, `{"code":"save10"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview service.CouponPreview
	decode(t, rec, &preview)
	assert.Equal(t, entity.Money(800), preview.DiscountValue)

	quote := `{"delivery_address":{"city":"Recife","postal_code":"50000-000"},"delivery_mode":"expedited","items":[{"product_id":"` + p.ID + `","quantity":1}]}`
	rec = s.do(t, http.MethodPost, "/shipping/quote", tok, quote)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var est service.Estimate
	decode(t, rec, &est)
	assert.Equal(t, entity.Money(3000), est.ShippingValue)

	rec = s.do(t, http.MethodPost, "/shipping/quote", tok, `{"delivery_address":{"city":"Recife"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/checkout", tok, strings.Replace(checkoutBody, `"payment_method":"pix"`, `"payment_method":"pix","coupon_code":"NOPE"`, 1))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLowStockIsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	s.product(t, 1000, 1)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/products/low-stock", token(t, "u1", false), "").Code)
	rec := s.do(t, http.MethodGet, "/products/low-stock", token(t, "admin", true), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []service.StockSnapshot
	decode(t, rec, &snaps)
	assert.Len(t, snaps, 1)
}
