package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/entity"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func TestKafkaNotifierPublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w)
	order := &entity.Order{ID: "o1", OrderNumber: "2026-000001", UserID: "u1", Status: entity.OrderPending, Total: 5500,
		Items: []entity.OrderItem{{ProductID: "p1", Quantity: 2}}}

	require.NoError(t, n.Publish(context.Background(), entity.NewOrderEvent(entity.EventOrderCreated, order, time.Unix(0, 0).UTC())))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order.created.o1", string(w.msgs[0].Key))

	var got entity.OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, entity.Money(5500), got.Total)
	assert.Equal(t, []entity.EventItem{{ProductID: "p1", Quantity: 2}}, got.Items)
}

func TestNotifySwallowsErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	assert.NotPanics(t, func() {
		notify(context.Background(), NewKafkaNotifier(w), entity.OrderEvent{Type: entity.EventOrderStatus, OrderID: "o1"})
		notify(context.Background(), nil, entity.OrderEvent{})
	})
	assert.Len(t, w.msgs, 1)
}
