package entity

import (
	"fmt"
	"time"
)

type OrderEventType string

const (
	EventOrderCreated   OrderEventType = "created"
	EventOrderStatus    OrderEventType = "status"
	EventOrderCancelled OrderEventType = "cancelled"
	EventOrderRefunded  OrderEventType = "refunded"
)

// OrderEvent is the message published on the order topic.
type OrderEvent struct {
	Type        OrderEventType `json:"type"`
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	UserID      string         `json:"user_id"`
	Status      OrderStatus    `json:"status"`
	Total       Money          `json:"total"`
	Items       []EventItem    `json:"items"`
	Reason      string         `json:"reason,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type EventItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Key is the message key, "order.<type>.<order id>".
func (e OrderEvent) Key() string {
	return fmt.Sprintf("order.%s.%s", e.Type, e.OrderID)
}

func NewOrderEvent(t OrderEventType, order *Order, at time.Time) OrderEvent {
	items := make([]EventItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, EventItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return OrderEvent{
		Type:        t,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		Items:       items,
		Reason:      order.CancelReason,
		OccurredAt:  at,
	}
}
