package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const idempotencyPending = "pending"

// IdempotencyGuard remembers Idempotency-Key headers in Redis so a retried
// checkout returns the first order instead of placing a second one. A claim
// lives for pendingTTL until Complete stores the order for the full ttl, so a
// checkout that never reports back frees its key quickly.
type IdempotencyGuard struct {
	rdb        *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotencyGuard(rdb *redis.Client, ttl, pendingTTL time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if pendingTTL <= 0 {
		pendingTTL = 2 * time.Minute
	}
	return &IdempotencyGuard{rdb: rdb, ttl: ttl, pendingTTL: min(pendingTTL, ttl)}
}

func idempotencyKey(userID, key string) string {
	return fmt.Sprintf("idempotent-key:%s:%s", userID, key)
}

// Acquire claims the key. When the key is already taken it returns false and
// the stored value: the order id of a finished checkout, or "" while the
// first request is still running.
func (g *IdempotencyGuard) Acquire(ctx context.Context, userID, key string) (bool, string, error) {
	redisKey := idempotencyKey(userID, key)
	ok, err := g.rdb.SetNX(ctx, redisKey, idempotencyPending, g.pendingTTL).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}

	val, err := g.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls, try once more
		ok, err = g.rdb.SetNX(ctx, redisKey, idempotencyPending, g.pendingTTL).Result()
		return ok, "", err
	}
	if err != nil {
		return false, "", err
	}
	if val == idempotencyPending {
		return false, "", nil
	}
	return false, val, nil
}

// Complete stores the order produced under the key for the full ttl.
func (g *IdempotencyGuard) Complete(ctx context.Context, userID, key, orderID string) error {
	return g.rdb.Set(ctx, idempotencyKey(userID, key), orderID, g.ttl).Err()
}

// Release frees the key after a failed checkout so the client can retry.
func (g *IdempotencyGuard) Release(ctx context.Context, userID, key string) error {
	return g.rdb.Del(ctx, idempotencyKey(userID, key)).Err()
}
