// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/order"
	"github.com/xenking/order-service/pkg/httpmiddleware"
)

// OrderCreator places orders.
type OrderCreator interface {
	Create(ctx context.Context, idempotencyKey string, d order.Draft) (*order.CreateResult, error)
}

// OrderReader serves access-checked order reads.
type OrderReader interface {
	Get(ctx context.Context, req access.Requester, id string, p order.Projection) (map[string]any, error)
	ListMine(ctx context.Context, req access.Requester) ([]order.Order, error)
}

// CheckoutCompleter applies a completed checkout session to its order.
type CheckoutCompleter interface {
	HandleCheckoutCompleted(ctx context.Context, sessionID string) (*order.Order, error)
}

// Handler serves the order and payment routes.
type Handler struct {
	orders        OrderCreator
	reader        OrderReader
	checkouts     CheckoutCompleter
	webhookSecret string
}

// New creates a Handler. webhookSecret is the signing secret of the payment
// gateway webhook endpoint.
func New(orders OrderCreator, reader OrderReader, checkouts CheckoutCompleter, webhookSecret string) *Handler {
	return &Handler{
		orders:        orders,
		reader:        reader,
		checkouts:     checkouts,
		webhookSecret: webhookSecret,
	}
}

// RouterConfig selects the middlewares mounted around the routes.
type RouterConfig struct {
	Auth *Authenticator
	// Middlewares wrap every route.
	Middlewares []httpmiddleware.Middleware
	// Authenticated wrap the token-protected routes after authentication.
	Authenticated []httpmiddleware.Middleware
}

// Router mounts the routes. The webhook is authenticated by its signature;
// every other route requires a bearer token.
func (h *Handler) Router(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	for _, mw := range cfg.Middlewares {
		r.Use(mw)
	}
	r.Post("/payments/webhook", h.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)
		for _, mw := range cfg.Authenticated {
			r.Use(mw)
		}
		r.Post("/orders", h.createOrder)
		r.Get("/orders/mine", h.listMine)
		r.Get("/orders/{orderId}", h.getOrder)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// SubjectKey keys rate limits by the authenticated subject.
func SubjectKey(r *http.Request) string {
	if req, ok := access.RequesterFromContext(r.Context()); ok {
		return "sub:" + req.Subject
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
