package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/customer"
)

// Authorizer decides whether a requester may read an order.
type Authorizer interface {
	CanView(ctx context.Context, res access.Resource, r access.Requester) (bool, error)
}

// Reader serves order reads on behalf of authenticated requesters.
type Reader struct {
	orders    Repository
	policy    Authorizer
	customers customer.Repository
}

// NewReader creates a Reader.
func NewReader(orders Repository, policy Authorizer, customers customer.Repository) *Reader {
	return &Reader{orders: orders, policy: policy, customers: customers}
}

// Get returns the projected order. Access is checked against the full order,
// so a projection never hides the fields the policy looks at.
func (r *Reader) Get(ctx context.Context, req access.Requester, id string, p Projection) (map[string]any, error) {
	o, err := r.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get order %s: %w", ErrPersistence, id, err)
	}

	ok, err := r.policy.CanView(ctx, o.Resource(), req)
	if err != nil {
		return nil, errors.Wrap(err, "check access")
	}
	if !ok {
		return nil, access.ErrDenied
	}
	return p.Apply(o), nil
}

// ListMine returns the orders of the customer bound to the requester,
// newest first and without carts.
func (r *Reader) ListMine(ctx context.Context, req access.Requester) ([]Order, error) {
	c, err := r.customers.FindByUserID(ctx, req.Subject)
	if err != nil {
		return nil, errors.Wrap(err, "resolve customer")
	}

	orders, err := r.orders.ListByCustomer(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %w", ErrPersistence, err)
	}
	return orders, nil
}
