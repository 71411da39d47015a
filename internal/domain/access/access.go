// Package access decides which authenticated callers may read an order.
package access

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/order-service/internal/domain/customer"
)

// ErrDenied is returned when the requester is authenticated but not allowed
// to see the resource. It is kept distinct from not-found errors.
var ErrDenied = errors.New("operation not permitted")

// Role is the role claim of an authenticated requester.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleCustomer Role = "customer"
)

// Requester is the authenticated caller. TenantID is only meaningful for
// managers.
type Requester struct {
	Subject  string
	Role     Role
	TenantID string
}

// Resource carries the ownership attributes of an order.
type Resource struct {
	TenantID   string
	CustomerID string
}

type requesterKey struct{}

// WithRequester stores r in ctx.
func WithRequester(ctx context.Context, r Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, r)
}

// RequesterFromContext returns the requester stored by WithRequester.
func RequesterFromContext(ctx context.Context) (Requester, bool) {
	r, ok := ctx.Value(requesterKey{}).(Requester)
	return r, ok
}

// Policy implements role-based read access to orders.
type Policy struct {
	customers customer.Repository
}

// NewPolicy creates a Policy that resolves customers through the repository.
func NewPolicy(customers customer.Repository) *Policy {
	return &Policy{customers: customers}
}

// CanView reports whether r may read res:
//   - admin: always;
//   - manager: only orders of their own tenant;
//   - customer: only orders placed by the customer bound to their subject.
//
// Any other role is denied. The error is non-nil only when the customer
// record for a customer requester cannot be resolved.
func (p *Policy) CanView(ctx context.Context, res Resource, r Requester) (bool, error) {
	switch r.Role {
	case RoleAdmin:
		return true, nil
	case RoleManager:
		return r.TenantID != "" && res.TenantID == r.TenantID, nil
	case RoleCustomer:
		c, err := p.customers.FindByUserID(ctx, r.Subject)
		if err != nil {
			return false, errors.Wrap(err, "resolve customer")
		}
		return res.CustomerID == c.ID, nil
	default:
		return false, nil
	}
}
