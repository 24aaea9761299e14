package service

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"checkout-service/internal/entity"
)

// Notifier hands order events to the notification collaborator.
type Notifier interface {
	Publish(ctx context.Context, event entity.OrderEvent) error
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Publish(ctx context.Context, event entity.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// order.created.<id>, order.cancelled.<id>, ...
	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: payload,
	}
	return n.writer.WriteMessages(ctx, msg)
}

type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, entity.OrderEvent) error { return nil }

// notify publishes best effort: the order is already committed, so failures
// are logged and dropped.
func notify(ctx context.Context, n Notifier, event entity.OrderEvent) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Str("order_id", event.OrderID).Msgf("Error publishing order %s event", event.Type)
	}
}
