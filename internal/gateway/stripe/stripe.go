// Package stripe opens and verifies checkout sessions with Stripe.
package stripe

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stripe/stripe-go/v83"

	"github.com/xenking/order-service/internal/domain/payment"
)

const (
	metadataOrderID  = "orderId"
	metadataTenantID = "tenantId"
)

// Config controls the checkout pages Stripe redirects to.
type Config struct {
	SuccessURL  string
	CancelURL   string
	ProductName string
}

var _ payment.Gateway = (*Gateway)(nil)

// Gateway implements payment.Gateway with Stripe Checkout.
type Gateway struct {
	client *stripe.Client
	cfg    Config
}

// New creates a Gateway using client.
func New(client *stripe.Client, cfg Config) *Gateway {
	if cfg.ProductName == "" {
		cfg.ProductName = "Online order"
	}
	return &Gateway{client: client, cfg: cfg}
}

// CreateSession opens a one-line checkout session for the order total. The
// idempotency key is forwarded, so a retried call returns the same session.
func (g *Gateway) CreateSession(ctx context.Context, p payment.SessionParams) (*payment.Session, error) {
	successURL, err := redirectURL(g.cfg.SuccessURL, true, p)
	if err != nil {
		return nil, err
	}
	cancelURL, err := redirectURL(g.cfg.CancelURL, false, p)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(p.Currency),
				UnitAmount: stripe.Int64(p.Amount),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(g.cfg.ProductName),
				},
			},
		}},
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		SuccessURL:               stripe.String(successURL),
		CancelURL:                stripe.String(cancelURL),
	}
	params.AddMetadata(metadataOrderID, p.OrderID)
	params.AddMetadata(metadataTenantID, p.TenantID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	s, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("creating checkout session for order %s: %w", p.OrderID, err)
	}
	return toSession(s), nil
}

// GetSession fetches a checkout session by id.
func (g *Gateway) GetSession(ctx context.Context, id string) (*payment.Session, error) {
	s, err := g.client.V1CheckoutSessions.Retrieve(ctx, id, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("retrieving checkout session %s: %w", id, err)
	}
	return toSession(s), nil
}

func toSession(s *stripe.CheckoutSession) *payment.Session {
	return &payment.Session{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: payment.Status(s.PaymentStatus),
		OrderID:       s.Metadata[metadataOrderID],
		TenantID:      s.Metadata[metadataTenantID],
	}
}

func redirectURL(base string, success bool, p payment.SessionParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing redirect url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("success", fmt.Sprint(success))
	q.Set("orderId", p.OrderID)
	q.Set("restaurantId", p.TenantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
