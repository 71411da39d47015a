package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/order-service/internal/domain/event"
	"github.com/xenking/order-service/internal/domain/payment"
)

// WebhookHandler settles payments reported by the gateway.
type WebhookHandler struct {
	orders   Repository
	payments payment.Gateway
	events   Publisher
	failures *failureReporter
}

// NewWebhookHandler creates a WebhookHandler. A nil MeterProvider disables
// metrics.
func NewWebhookHandler(orders Repository, payments payment.Gateway, events Publisher, mp metric.MeterProvider) (*WebhookHandler, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	failures, err := newFailureReporter(mp)
	if err != nil {
		return nil, err
	}
	return &WebhookHandler{
		orders:   orders,
		payments: payments,
		events:   events,
		failures: failures,
	}, nil
}

// HandleCheckoutCompleted re-reads the checkout session from the gateway and
// records its outcome on the order. The notification payload itself is never
// trusted.
//
// Redelivery is safe: the status is only set on a pending order or on one
// already carrying the same status. An order whose payment was resolved the
// other way is returned unchanged without an event.
func (h *WebhookHandler) HandleCheckoutCompleted(ctx context.Context, sessionID string) (*Order, error) {
	sess, err := h.payments.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s: %w", payment.ErrGatewayVerification, sessionID, err)
	}
	if sess.OrderID == "" {
		return nil, fmt.Errorf("%w: session %s has no order id", payment.ErrGatewayVerification, sessionID)
	}

	status := PaymentFailed
	if sess.PaymentStatus == payment.StatusPaid {
		status = PaymentPaid
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", sess.OrderID),
		zap.String("session_id", sessionID),
		zap.String("payment_status", string(status)),
	)

	o, err := h.orders.SetPaymentStatus(ctx, sess.OrderID, status)
	switch {
	case errors.Is(err, ErrPaymentStatusResolved):
		lg.Warn("Payment status already resolved, ignoring webhook")
		return o, nil
	case errors.Is(err, ErrNotFound):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: set payment status: %w", ErrPersistence, err)
	}
	lg.Info("Payment status updated")

	if err := h.events.Publish(ctx, event.TypePaymentStatusUpdate, o.ID, o); err != nil {
		h.failures.report(ctx, "publish_event", o.ID, err)
	}
	return o, nil
}
