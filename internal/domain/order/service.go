package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/order-service/internal/domain/event"
	"github.com/xenking/order-service/internal/domain/payment"
	"github.com/xenking/order-service/internal/domain/pricing"
)

const instrumentationName = "github.com/xenking/order-service/internal/domain/order"

// Pricer computes the pre-discount total of a cart.
type Pricer interface {
	CartTotal(ctx context.Context, tenantID string, cart []pricing.CartItem) (int64, error)
}

// DiscountResolver returns the discount percentage of a tenant coupon.
type DiscountResolver interface {
	ResolveDiscount(ctx context.Context, code, tenantID string) decimal.Decimal
}

// Publisher emits order events.
type Publisher interface {
	Publish(ctx context.Context, typ event.Type, key string, data any) error
}

// Config holds the pricing policy and telemetry providers of the Service.
type Config struct {
	TaxPercent  decimal.Decimal
	DeliveryFee int64
	Currency    string

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (c *Config) setDefaults() {
	if c.Currency == "" {
		c.Currency = "inr"
	}
	if c.TracerProvider == nil {
		c.TracerProvider = tracenoop.NewTracerProvider()
	}
	if c.MeterProvider == nil {
		c.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// CreateResult is the outcome of Service.Create. PaymentURL is nil for cash
// orders.
type CreateResult struct {
	Order      *Order
	PaymentURL *string
	Replayed   bool
}

// Service places orders.
type Service struct {
	orders    Repository
	pricer    Pricer
	discounts DiscountResolver
	payments  payment.Gateway
	events    Publisher

	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer
	failures *failureReporter
	hooks    []afterCommitHook
}

// NewService creates an order Service.
func NewService(
	orders Repository,
	pricer Pricer,
	discounts DiscountResolver,
	payments payment.Gateway,
	events Publisher,
	cfg Config,
) (*Service, error) {
	cfg.setDefaults()

	failures, err := newFailureReporter(cfg.MeterProvider)
	if err != nil {
		return nil, err
	}

	s := &Service{
		orders:    orders,
		pricer:    pricer,
		discounts: discounts,
		payments:  payments,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
		tracer:    cfg.TracerProvider.Tracer(instrumentationName),
		failures:  failures,
	}
	s.hooks = []afterCommitHook{
		{name: "payment_session", required: true, run: s.openPaymentSession},
		{name: "publish_event", run: s.publishCreated},
	}
	return s, nil
}

// Create places the order described by d under idempotencyKey.
//
// A key that was already used replays the stored order without validating
// or pricing d. Otherwise d is validated, the cart is priced, the order is
// committed together with the key, and the post-commit hooks run. The order
// stays committed even if a hook fails; retrying with the same key is safe.
func (s *Service) Create(ctx context.Context, idempotencyKey string, d Draft) (_ *CreateResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create",
		trace.WithAttributes(
			attribute.String("tenant.id", d.TenantID),
			attribute.String("payment.mode", string(d.PaymentMode)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}

	o, replayed, err := s.place(ctx, idempotencyKey, d)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.Bool("order.replayed", replayed),
	)

	res := &CreateResult{Order: o, Replayed: replayed}
	if err := s.afterCommit(ctx, idempotencyKey, res); err != nil {
		return nil, err
	}
	return res, nil
}

// place returns the order committed under key, creating it when the key is
// new. The boolean reports whether an existing order was returned.
func (s *Service) place(ctx context.Context, key string, d Draft) (*Order, bool, error) {
	existing, err := s.orders.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("%w: find idempotency key: %w", ErrPersistence, err)
	}

	if err := d.Validate(); err != nil {
		return nil, false, err
	}

	subtotal, err := s.pricer.CartTotal(ctx, d.TenantID, d.Cart)
	if err != nil {
		return nil, false, errors.Wrap(err, "price cart")
	}
	discountPct := s.discounts.ResolveDiscount(ctx, d.CouponCode, d.TenantID)
	b := pricing.ApplyDiscountTaxAndFees(subtotal, discountPct, s.cfg.TaxPercent, s.cfg.DeliveryFee)

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.NewString(),
		TenantID:        d.TenantID,
		CustomerID:      d.CustomerID,
		Cart:            d.Cart,
		Address:         d.Address,
		Comment:         d.Comment,
		DeliveryCharges: b.DeliveryCharges,
		Discount:        b.Discount,
		Taxes:           b.Taxes,
		Total:           b.Total,
		PaymentMode:     d.PaymentMode,
		OrderStatus:     StatusReceived,
		PaymentStatus:   PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.orders.CreateWithIdempotency(ctx, key, o)
	switch {
	case err == nil:
		return o, false, nil
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		// A concurrent submission with the same key committed first.
		winner, err := s.orders.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("%w: read committed order: %w", ErrPersistence, err)
		}
		return winner, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func (s *Service) openPaymentSession(ctx context.Context, key string, res *CreateResult) error {
	o := res.Order
	if o.PaymentMode != PaymentModeCard {
		return nil
	}

	sess, err := s.payments.CreateSession(ctx, payment.SessionParams{
		Amount:         o.Total,
		OrderID:        o.ID,
		TenantID:       o.TenantID,
		Currency:       s.cfg.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("%w: order %s: %w", payment.ErrSession, o.ID, err)
	}
	res.PaymentURL = &sess.URL
	return nil
}

func (s *Service) publishCreated(ctx context.Context, _ string, res *CreateResult) error {
	return s.events.Publish(ctx, event.TypeOrderCreate, res.Order.ID, res.Order)
}
