package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// afterCommitHook is a side effect that runs once the order is committed.
//
// The hooks are not atomic with the commit. A required hook failure stops
// the sequence and is returned to the caller, so the hooks after it do not
// run: a card order whose payment session fails emits no ORDER_CREATE until
// the client retries with the same idempotency key. Any other failure is
// logged and counted.
type afterCommitHook struct {
	name     string
	required bool
	run      func(ctx context.Context, key string, res *CreateResult) error
}

func (s *Service) afterCommit(ctx context.Context, key string, res *CreateResult) error {
	for _, h := range s.hooks {
		err := h.run(ctx, key, res)
		if err == nil {
			continue
		}
		s.failures.report(ctx, h.name, res.Order.ID, err)
		if h.required {
			return err
		}
	}
	return nil
}

type failureReporter struct {
	counter metric.Int64Counter
}

func newFailureReporter(mp metric.MeterProvider) (*failureReporter, error) {
	counter, err := mp.Meter(instrumentationName).Int64Counter("orders.post_commit.failures",
		metric.WithDescription("Side effects that failed after an order change was committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create post-commit failure counter")
	}
	return &failureReporter{counter: counter}, nil
}

func (r *failureReporter) report(ctx context.Context, hook, orderID string, err error) {
	zctx.From(ctx).Error("Post-commit hook failed",
		zap.String("hook", hook),
		zap.String("order_id", orderID),
		zap.Error(err),
	)
	r.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("hook", hook)))
}
