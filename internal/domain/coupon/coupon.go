package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no coupon exists for a (code, tenant) pair.
	ErrNotFound = errors.New("coupon not found")
	// ErrAlreadyIssued is returned by Repository.Create when the tenant
	// already has a coupon with the same code.
	ErrAlreadyIssued = errors.New("coupon already issued")
)

// Coupon is a tenant-scoped percentage discount. Codes are unique per tenant
// only, and a coupon never changes once issued.
type Coupon struct {
	Code      string          `json:"code"`
	TenantID  string          `json:"tenantId"`
	Title     string          `json:"title"`
	Discount  decimal.Decimal `json:"discount"`
	ValidUpto time.Time       `json:"validUpto"`
}

// ValidAt reports whether the coupon can still be redeemed at t. The expiry
// instant itself is still valid.
func (c *Coupon) ValidAt(t time.Time) bool {
	return !t.After(c.ValidUpto)
}

// Repository provides lookup and issuance of coupons.
type Repository interface {
	FindByCode(ctx context.Context, code, tenantID string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
}
