package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-service/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, tenant_id, title, discount, valid_upto
		FROM coupons WHERE code = $1 AND tenant_id = $2`

	insertCouponSQL = `INSERT INTO coupons (code, tenant_id, title, discount, valid_upto)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code, tenant_id) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up the tenant's coupon. Codes are matched exactly.
// Returns coupon.ErrNotFound when the tenant has no such coupon.
func (r *CouponRepository) FindByCode(ctx context.Context, code, tenantID string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code, tenantID)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return &c, nil
}

// Create issues a coupon. Coupons are immutable, so an existing (code,
// tenant) pair is left untouched and coupon.ErrAlreadyIssued is returned.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, insertCouponSQL, c.Code, c.TenantID, c.Title, c.Discount, c.ValidUpto)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrAlreadyIssued
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.TenantID, &c.Title, &c.Discount, &c.ValidUpto)
	return c, err
}
