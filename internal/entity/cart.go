package entity

import "time"

type CartLine struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ProductID         string    `json:"product_id"`
	Quantity          int       `json:"quantity"`
	CapturedUnitPrice Money     `json:"captured_unit_price"`
	Customization     string    `json:"customization,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (l *CartLine) Subtotal() Money {
	return l.CapturedUnitPrice.Mul(l.Quantity)
}

type CartTotals struct {
	Lines       int   `json:"lines"`
	Items       int   `json:"items"`
	Subtotal    Money `json:"subtotal"`
	WeightGrams int   `json:"weight_grams"`
}

type CartIssueAction string

const (
	CartIssueRemove         CartIssueAction = "remove"
	CartIssueAdjustQuantity CartIssueAction = "adjustQuantity"
	CartIssueUpdatePrice    CartIssueAction = "updatePrice"
)

// CartIssue describes one drift between a cart line and the catalog. Fix
// applies issues as corrections, so the same type reports both.
type CartIssue struct {
	LineID            string          `json:"line_id"`
	ProductID         string          `json:"product_id"`
	Action            CartIssueAction `json:"action"`
	Reason            string          `json:"reason"`
	Quantity          int             `json:"quantity,omitempty"`
	AvailableQuantity int             `json:"available_quantity,omitempty"`
	CapturedPrice     Money           `json:"captured_price,omitempty"`
	CurrentPrice      Money           `json:"current_price,omitempty"`
}

/*
Schema:
CREATE TABLE cart_lines (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	user_id VARCHAR(64) NOT NULL,
	product_id VARCHAR(36) NOT NULL,
	quantity INT NOT NULL,
	captured_unit_price BIGINT NOT NULL,
	customization TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (user_id, product_id)
);
*/
