package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

// StockSnapshot is the cached view of a product's stock for the admin surface.
type StockSnapshot struct {
	ProductID    string `json:"product_id"`
	Stock        int    `json:"stock"`
	StockMinimum int    `json:"stock_minimum"`
	Sold         int    `json:"sold"`
	LowStock     bool   `json:"low_stock"`
	Sellable     bool   `json:"sellable"`
}

// StockCache is a read-through Redis cache of product stock. Checkout never
// reads it; it only serves display and low-stock reporting.
type StockCache struct {
	store *repository.Store
	rdb   *redis.Client
	ttl   time.Duration
}

func NewStockCache(store *repository.Store, rdb *redis.Client, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StockCache{store: store, rdb: rdb, ttl: ttl}
}

func stockKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}

func (c *StockCache) GetStock(ctx context.Context, productID string) (*StockSnapshot, error) {
	key := stockKey(productID)
	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var snap StockSnapshot
		if err := json.Unmarshal([]byte(cached), &snap); err == nil {
			return &snap, nil
		}
		logger.Warn().Msgf("Dropping unreadable cache entry for product %s", productID)
	case errors.Is(err, redis.Nil):
	default:
		logger.Error().Err(err).Msgf("Error getting stock for product %s from cache", productID)
	}

	product, err := c.store.Repos().Products.GetByID(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("product", productID)
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting product by ID %s", productID)
		return nil, err
	}

	snap := snapshotOf(product)
	payload, _ := json.Marshal(snap)
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		logger.Error().Err(err).Msgf("Error setting product %s in cache", productID)
	}
	return snap, nil
}

// Evict drops cached entries so the next read goes to the database.
func (c *StockCache) Evict(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, stockKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// LowStock lists products at or below their minimum, straight from the database.
func (c *StockCache) LowStock(ctx context.Context) ([]*StockSnapshot, error) {
	products, err := c.store.Repos().Products.ListLowStock(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing low stock products")
		return nil, err
	}
	snaps := make([]*StockSnapshot, 0, len(products))
	for _, p := range products {
		snaps = append(snaps, snapshotOf(p))
	}
	return snaps, nil
}

func snapshotOf(p *entity.Product) *StockSnapshot {
	return &StockSnapshot{
		ProductID:    p.ID,
		Stock:        p.Stock,
		StockMinimum: p.StockMinimum,
		Sold:         p.Sold,
		LowStock:     p.IsLowStock(),
		Sellable:     p.IsSellable(),
	}
}
