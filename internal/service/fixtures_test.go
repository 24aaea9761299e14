package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/config"
	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
	"checkout-service/internal/testdb"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var testShipping = config.ShippingConfig{
	BaseFee:               1500,
	WeightThresholdGrams:  1000,
	FeePerKg:              500,
	FreeShippingThreshold: 15000,
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []entity.OrderEvent
	err    error
}

func (n *recordingNotifier) Publish(ctx context.Context, event entity.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []entity.OrderEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []entity.OrderEventType
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db       *sql.DB
	store    *repository.Store
	carts    *CartService
	coupons  *CouponService
	checkout *CheckoutService
	orders   *OrderService
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, opts ...CheckoutOption) *testEnv {
	t.Helper()
	db := testdb.Open(t)
	store := repository.NewStore(db, nil)
	notifier := &recordingNotifier{}
	coupons := NewCouponService(store, fixedClock)
	opts = append([]CheckoutOption{WithClock(fixedClock)}, opts...)
	return &testEnv{
		db:       db,
		store:    store,
		carts:    NewCartService(store, fixedClock),
		coupons:  coupons,
		checkout: NewCheckoutService(store, coupons, NewShippingCalculator(testShipping), notifier, opts...),
		orders:   NewOrderService(store, notifier, DefaultLedger, fixedClock),
		notifier: notifier,
	}
}

func (e *testEnv) product(t *testing.T, price entity.Money, stock int, mutate ...func(*entity.Product)) *entity.Product {
	t.Helper()
	p := &entity.Product{
		ID:               uuid.NewString(),
		Name:             "Product " + uuid.NewString()[:8],
		CategoryID:       "general",
		Price:            price,
		Stock:            stock,
		StockMinimum:     1,
		WeightGrams:      500,
		Active:           true,
		AvailableForSale: true,
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, e.store.Repos().Products.Create(context.Background(), p))
	return p
}

func (e *testEnv) coupon(t *testing.T, c *entity.Coupon) *entity.Coupon {
	t.Helper()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Enabled = true
	require.NoError(t, e.store.Repos().Coupons.Create(context.Background(), c))
	return c
}

func (e *testEnv) reload(t *testing.T, productID string) *entity.Product {
	t.Helper()
	p, err := e.store.Repos().Products.GetByID(context.Background(), productID)
	require.NoError(t, err)
	return p
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func (e *testEnv) addToCart(t *testing.T, userID string, p *entity.Product, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), userID, p.ID, qty, "")
	require.NoError(t, err)
}

func testAddress() entity.Address {
	return entity.Address{
		Recipient:  "Ana Souza",
		Street:     "Rua das Flores",
		Number:     "100",
		City:       "Recife",
		State:      "PE",
		PostalCode: "50000-000",
	}
}

func checkoutRequest(userID string) CheckoutRequest {
	return CheckoutRequest{
		UserID:          userID,
		DeliveryAddress: testAddress(),
		PaymentMethod:   entity.PaymentPix,
		DeliveryMode:    entity.DeliveryStandard,
	}
}

// failingLedger reserves through the real ledger but fails the n-th call.
type failingLedger struct {
	inner  StockLedger
	calls  *int
	failAt int
}

var errLedgerDown = errors.New("ledger unavailable")

func (l *failingLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	*l.calls++
	if *l.calls == l.failAt {
		return errLedgerDown
	}
	return l.inner.Reserve(ctx, productID, quantity)
}

func (l *failingLedger) Release(ctx context.Context, productID string, quantity int) error {
	return l.inner.Release(ctx, productID, quantity)
}

// interleavingLedger runs before on the checkout's own transaction right ahead
// of the at-th Reserve. It stands in for another buyer whose transaction
// committed between the availability check and the reservation.
type interleavingLedger struct {
	r      *repository.Repos
	calls  *int
	at     int
	before func(ctx context.Context, r *repository.Repos, productID string) error
}

func (l *interleavingLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	*l.calls++
	if *l.calls == l.at {
		if err := l.before(ctx, l.r, productID); err != nil {
			return err
		}
	}
	return l.r.Products.Reserve(ctx, productID, quantity)
}

func (l *interleavingLedger) Release(ctx context.Context, productID string, quantity int) error {
	return l.r.Products.Release(ctx, productID, quantity)
}

// recordingLedger remembers the order in which product rows were written.
type recordingLedger struct {
	inner StockLedger
	mu    *sync.Mutex
	log   *[]string
}

func (l *recordingLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	l.mu.Lock()
	*l.log = append(*l.log, "reserve "+productID)
	l.mu.Unlock()
	return l.inner.Reserve(ctx, productID, quantity)
}

func (l *recordingLedger) Release(ctx context.Context, productID string, quantity int) error {
	l.mu.Lock()
	*l.log = append(*l.log, "release "+productID)
	l.mu.Unlock()
	return l.inner.Release(ctx, productID, quantity)
}

// contendedLedger answers the first failures Reserve calls with an InnoDB
// deadlock, as if another transaction held the row.
type contendedLedger struct {
	inner    StockLedger
	calls    *int
	failures int
}

func (l *contendedLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	*l.calls++
	if *l.calls <= l.failures {
		return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock; try restarting transaction"}
	}
	return l.inner.Reserve(ctx, productID, quantity)
}

func (l *contendedLedger) Release(ctx context.Context, productID string, quantity int) error {
	return l.inner.Release(ctx, productID, quantity)
}
