package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-service/internal/domain/customer"
)

const (
	getCustomerByUserIDSQL = `SELECT id, user_id, first_name, last_name, email, addresses
		FROM customers WHERE user_id = $1`

	upsertCustomerSQL = `INSERT INTO customers (id, user_id, first_name, last_name, email, addresses)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			email      = EXCLUDED.email,
			addresses  = EXCLUDED.addresses`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

type addressRow struct {
	Text      string `json:"text"`
	IsDefault bool   `json:"isDefault"`
}

// FindByUserID returns the customer bound to the user, or customer.ErrNotFound.
func (r *CustomerRepository) FindByUserID(ctx context.Context, userID string) (*customer.Customer, error) {
	var (
		c    customer.Customer
		addr []byte
	)
	err := r.pool.QueryRow(ctx, getCustomerByUserIDSQL, userID).
		Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &addr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer of user %q: %w", userID, err)
	}

	var rows []addressRow
	if err := json.Unmarshal(addr, &rows); err != nil {
		return nil, fmt.Errorf("decoding addresses of customer %q: %w", c.ID, err)
	}
	for _, a := range rows {
		c.Addresses = append(c.Addresses, customer.Address{Text: a.Text, IsDefault: a.IsDefault})
	}
	return &c, nil
}

// Upsert creates the customer or refreshes its profile. The id of an
// existing customer never changes.
func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	rows := make([]addressRow, 0, len(c.Addresses))
	for _, a := range c.Addresses {
		rows = append(rows, addressRow{Text: a.Text, IsDefault: a.IsDefault})
	}
	addr, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshaling addresses: %w", err)
	}

	_, err = r.pool.Exec(ctx, upsertCustomerSQL, c.ID, c.UserID, c.FirstName, c.LastName, c.Email, addr)
	if err != nil {
		return fmt.Errorf("upserting customer of user %q: %w", c.UserID, err)
	}
	return nil
}
