package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Finder is the read side of Repository.
type Finder interface {
	FindByCode(ctx context.Context, code, tenantID string) (*Coupon, error)
}

// Resolver turns a coupon code into a discount percentage.
type Resolver struct {
	coupons Finder
	now     func() time.Time
}

// NewResolver creates a Resolver backed by the given Finder.
func NewResolver(coupons Finder) *Resolver {
	return &Resolver{coupons: coupons, now: time.Now}
}

// ResolveDiscount returns the discount percentage of the tenant's coupon, or
// zero when the code is empty, unknown, expired or cannot be looked up.
// Pricing never fails because of a coupon.
func (r *Resolver) ResolveDiscount(ctx context.Context, code, tenantID string) decimal.Decimal {
	if code == "" {
		return decimal.Zero
	}

	c, err := r.coupons.FindByCode(ctx, code, tenantID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			zctx.From(ctx).Warn("Coupon lookup failed, applying no discount",
				zap.String("code", code),
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
		return decimal.Zero
	}

	if !c.ValidAt(r.now()) {
		return decimal.Zero
	}
	return c.Discount
}
