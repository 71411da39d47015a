// Package payment defines the payment gateway port used for card orders.
package payment

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrSession is returned when a payment session could not be opened.
	ErrSession = errors.New("payment session")
	// ErrGatewayVerification is returned when a checkout session cannot be
	// re-verified against the gateway, or the gateway answers with a session
	// that does not identify an order.
	ErrGatewayVerification = errors.New("gateway verification failed")
)

// Status is the payment status reported by the gateway for a session.
type Status string

// StatusPaid is the only status that settles an order.
const StatusPaid Status = "paid"

// SessionParams describes a checkout session for an order. IdempotencyKey is
// forwarded to the gateway so that retried requests open a single session.
type SessionParams struct {
	Amount         int64
	OrderID        string
	TenantID       string
	Currency       string
	IdempotencyKey string
}

// Session is a gateway checkout session. OrderID and TenantID come from the
// session metadata written at creation time.
type Session struct {
	ID            string
	URL           string
	PaymentStatus Status
	OrderID       string
	TenantID      string
}

// Gateway opens and fetches checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, params SessionParams) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
}
