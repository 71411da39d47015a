package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-service/internal/domain/order"
)

const (
	orderColumns = `id, tenant_id, customer_id, cart, address, comment,
		delivery_charges, discount, taxes, total,
		payment_mode, order_status, payment_status, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertIdempotencyKeySQL = `INSERT INTO idempotency_keys (key, order_id, response)
		VALUES ($1, $2, $3)`

	getIdempotentResponseSQL = `SELECT response FROM idempotency_keys WHERE key = $1`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 ORDER BY created_at DESC`

	// The status only moves away from pending, so a redelivered webhook
	// matches its own earlier write and anything else is left alone.
	setPaymentStatusSQL = `UPDATE orders SET payment_status = $2, updated_at = now()
		WHERE id = $1 AND payment_status IN ('pending', $2)
		RETURNING ` + orderColumns

	idempotencyKeyConstraint = "idempotency_keys_pkey"
	uniqueViolation          = "23505"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// FindByIdempotencyKey returns the order snapshot stored with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	var raw []byte
	if err := r.pool.QueryRow(ctx, getIdempotentResponseSQL, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding idempotency key: %w", err)
	}

	var o order.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decoding stored order: %w", err)
	}
	return &o, nil
}

// CreateWithIdempotency inserts the order and its idempotency record in one
// transaction. A concurrent insert of the same key blocks on the primary key
// until the first transaction finishes, then fails with a unique violation.
func (r *OrderRepository) CreateWithIdempotency(ctx context.Context, key string, o *order.Order) error {
	cartJSON, err := json.Marshal(o.Cart)
	if err != nil {
		return fmt.Errorf("marshaling order cart: %w", err)
	}
	snapshot, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling order snapshot: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.TenantID, o.CustomerID, cartJSON, o.Address, o.Comment,
			o.DeliveryCharges, o.Discount, o.Taxes, o.Total,
			string(o.PaymentMode), string(o.OrderStatus), string(o.PaymentStatus),
			o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}
		if _, err := tx.Exec(ctx, insertIdempotencyKeySQL, key, o.ID, snapshot); err != nil {
			return fmt.Errorf("inserting idempotency key: %w", err)
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyKeyConstraint {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the full order.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByCustomer returns the customer's orders newest first, without carts.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %q: %w", customerID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %q: %w", customerID, err)
	}
	for i := range orders {
		orders[i].Cart = nil
	}
	return orders, nil
}

// SetPaymentStatus moves a pending order to status. Setting the status the
// order already has is a no-op that succeeds.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, status order.PaymentStatus) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, setPaymentStatusSQL, id, string(status))
	if err != nil {
		return nil, fmt.Errorf("setting payment status of %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case err == nil:
		return &o, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("setting payment status of %q: %w", id, err)
	}

	// Nothing matched: either the order is unknown or already resolved.
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, order.ErrPaymentStatusResolved
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                 order.Order
		cartJSON                          []byte
		paymentMode, status, paymentState string
	)
	err := row.Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &cartJSON, &o.Address, &o.Comment,
		&o.DeliveryCharges, &o.Discount, &o.Taxes, &o.Total,
		&paymentMode, &status, &paymentState, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(cartJSON, &o.Cart); err != nil {
		return order.Order{}, fmt.Errorf("decoding cart of order %q: %w", o.ID, err)
	}
	o.PaymentMode = order.PaymentMode(paymentMode)
	o.OrderStatus = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentState)
	return o, nil
}
