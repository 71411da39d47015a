// Package redis holds the Redis-backed coupon cache and request counters.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/order-service/internal/domain/coupon"
)

// CouponCache is a read-through cache in front of a coupon.Finder. Coupons
// are immutable, so entries only expire; an entry never outlives the coupon
// it holds. Misses are not cached.
type CouponCache struct {
	client *redis.Client
	next   coupon.Finder
	ttl    time.Duration
	now    func() time.Time
}

// NewCouponCache wraps next with a cache keeping entries for at most ttl.
func NewCouponCache(client *redis.Client, next coupon.Finder, ttl time.Duration) *CouponCache {
	return &CouponCache{client: client, next: next, ttl: ttl, now: time.Now}
}

// FindByCode returns the cached coupon or loads it from the wrapped finder.
// Redis failures degrade to the wrapped finder.
func (c *CouponCache) FindByCode(ctx context.Context, code, tenantID string) (*coupon.Coupon, error) {
	key := cacheKey(code, tenantID)
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached coupon.Coupon
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		lg.Warn("Ignoring malformed coupon cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
	}

	found, err := c.next.FindByCode(ctx, code, tenantID)
	if err != nil {
		return nil, err
	}

	ttl := min(c.ttl, found.ValidUpto.Sub(c.now()))
	if ttl <= 0 {
		return found, nil
	}
	data, err = json.Marshal(found)
	if err != nil {
		return nil, fmt.Errorf("marshal coupon: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		lg.Warn("Coupon cache write failed", zap.String("key", key), zap.Error(err))
	}
	return found, nil
}

func cacheKey(code, tenantID string) string {
	return fmt.Sprintf("coupon:%s:%s", tenantID, code)
}
