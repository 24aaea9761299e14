package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"checkout-service/internal/entity"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CacheEvicter drops cached stock for products.
type CacheEvicter interface {
	Evict(ctx context.Context, productIDs ...string) error
}

// Consumer listens to order events and evicts the cached stock of every
// product an order touched, so reads go back to the database.
type Consumer struct {
	reader MessageReader
	cache  CacheEvicter
}

func NewConsumer(reader MessageReader, cache CacheEvicter) *Consumer {
	return &Consumer{reader: reader, cache: cache}
}

// Start reads until ctx is cancelled or the reader is closed.
func (c *Consumer) Start(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Info().Msg("Order consumer stopped")
				return
			}
			log.Error().Msgf("Error reading message: %v", err)
			continue
		}

		c.processMessage(ctx, msg)
	}
}

// processMessage handles one event. The key is "order.<type>.<orderID>".
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	var event entity.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Error().Msgf("Error unmarshalling message: %v", err)
		return
	}

	parts := strings.Split(string(msg.Key), ".")
	if len(parts) < 3 || parts[0] != "order" {
		log.Error().Msgf("Unexpected message key: %q", string(msg.Key))
		return
	}
	eventType := entity.OrderEventType(parts[1])

	switch eventType {
	case entity.EventOrderCreated, entity.EventOrderCancelled, entity.EventOrderRefunded:
		ids := make([]string, 0, len(event.Items))
		for _, item := range event.Items {
			ids = append(ids, item.ProductID)
		}
		if err := c.cache.Evict(ctx, ids...); err != nil {
			log.Error().Msgf("Error evicting stock cache for order %s: %v", event.OrderID, err)
			return
		}
		log.Debug().Msgf("Evicted stock cache of %d products after %s of order %s", len(ids), eventType, event.OrderID)
	case entity.EventOrderStatus:
		// status changes do not move stock
	default:
		log.Error().Msgf("Unknown order event: %s", eventType)
	}
}
