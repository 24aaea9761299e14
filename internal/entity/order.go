package entity

import (
	"slices"
	"time"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderPreparing  OrderStatus = "preparing"
	OrderReady      OrderStatus = "ready"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

// happyPath is the forward-only lifecycle of an order.
var happyPath = []OrderStatus{
	OrderPending,
	OrderConfirmed,
	OrderProcessing,
	OrderPreparing,
	OrderReady,
	OrderShipped,
	OrderDelivered,
}

func (s OrderStatus) Valid() bool {
	return slices.Contains(happyPath, s) || s == OrderCancelled || s == OrderRefunded
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderRefunded
}

// Step returns the position of s on the happy path, or -1.
func (s OrderStatus) Step() int {
	return slices.Index(happyPath, s)
}

// Next returns the immediate successor on the happy path.
func (s OrderStatus) Next() (OrderStatus, bool) {
	i := s.Step()
	if i < 0 || i == len(happyPath)-1 {
		return "", false
	}
	return happyPath[i+1], true
}

// CanAdvance reports whether from -> to is a legal forward move. Without
// override only the immediate successor is allowed.
func CanAdvance(from, to OrderStatus, override bool) bool {
	if from.IsTerminal() {
		return false
	}
	fi, ti := from.Step(), to.Step()
	if fi < 0 || ti < 0 || ti <= fi {
		return false
	}
	return override || ti == fi+1
}

type DeliveryMode string

const (
	DeliveryStandard  DeliveryMode = "standard"
	DeliveryExpedited DeliveryMode = "expedited"
	DeliveryScheduled DeliveryMode = "scheduled"
)

func (m DeliveryMode) Valid() bool {
	return m == DeliveryStandard || m == DeliveryExpedited || m == DeliveryScheduled
}

type PaymentMethod string

const (
	PaymentPix        PaymentMethod = "pix"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentBankSlip   PaymentMethod = "bank_slip"
	PaymentCash       PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentPix, PaymentCreditCard, PaymentDebitCard, PaymentBankSlip, PaymentCash:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRefused  PaymentStatus = "refused"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentRefused, PaymentRefunded:
		return true
	}
	return false
}

// Address is copied into the order at checkout and never referenced again.
type Address struct {
	Recipient  string `json:"recipient"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID                string        `json:"id"`
	OrderNumber       string        `json:"order_number"`
	UserID            string        `json:"user_id"`
	Status            OrderStatus   `json:"status"`
	ProductsValue     Money         `json:"products_value"`
	ShippingValue     Money         `json:"shipping_value"`
	DiscountValue     Money         `json:"discount_value"`
	Surcharge         Money         `json:"surcharge"`
	Total             Money         `json:"total"`
	PaymentMethod     PaymentMethod `json:"payment_method"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	DeliveryAddress   Address       `json:"delivery_address"`
	DeliveryMode      DeliveryMode  `json:"delivery_mode"`
	ScheduledFor      *time.Time    `json:"scheduled_for,omitempty"`
	CouponID          string        `json:"coupon_id,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	CancelReason      string        `json:"cancel_reason,omitempty"`
	DeliveryConfirmed bool          `json:"delivery_confirmed"`
	Rating            *int          `json:"rating,omitempty"`
	Feedback          string        `json:"feedback,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	ConfirmedAt       *time.Time    `json:"confirmed_at,omitempty"`
	PreparingAt       *time.Time    `json:"preparing_at,omitempty"`
	ShippedAt         *time.Time    `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty"`
	Items             []OrderItem   `json:"items"`
}

// ComputeTotal applies the order money formula.
func ComputeTotal(productsValue, discountValue, shippingValue, surcharge Money) Money {
	return productsValue - discountValue + shippingValue + surcharge
}

type OrderItem struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Quantity      int    `json:"quantity"`
	UnitPrice     Money  `json:"unit_price"`
	Subtotal      Money  `json:"subtotal"`
	Customization string `json:"customization,omitempty"`
}

/*
Schema:
CREATE TABLE orders (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	order_number VARCHAR(32) NOT NULL UNIQUE,
	...
	CHECK (discount_value <= products_value)
);

CREATE TABLE order_items (
	...
	UNIQUE (order_id, product_id),
	FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
);
*/
