package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/order-service/pkg/httpmiddleware"
)

var _ httpmiddleware.LimitStore = (*LimitStore)(nil)

// LimitStore is a fixed window request counter shared by all instances.
type LimitStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewLimitStore creates a LimitStore on client.
func NewLimitStore(client *redis.Client) *LimitStore {
	return &LimitStore{client: client, now: time.Now}
}

// Take counts one request for key in the current window.
func (s *LimitStore) Take(ctx context.Context, key string, limit int, window time.Duration) (httpmiddleware.Quota, error) {
	start := s.now().Truncate(window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, start.Unix())

	var incr *redis.IntCmd
	if _, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.PExpire(ctx, redisKey, window)
		return nil
	}); err != nil {
		return httpmiddleware.Quota{}, errors.Wrap(err, "count request")
	}

	used := int(incr.Val())
	return httpmiddleware.Quota{
		Allowed:   used <= limit,
		Remaining: max(limit-used, 0),
		ResetAt:   start.Add(window),
	}, nil
}
