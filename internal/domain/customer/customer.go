package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no customer record is bound to a user.
var ErrNotFound = errors.New("customer not found")

// Customer binds an authenticated user (the token subject) to the customer
// identifier stored on orders.
type Customer struct {
	ID        string
	UserID    string
	FirstName string
	LastName  string
	Email     string
	Addresses []Address
}

// Address is a saved delivery address.
type Address struct {
	Text      string
	IsDefault bool
}

// Repository provides customer lookups.
type Repository interface {
	FindByUserID(ctx context.Context, userID string) (*Customer, error)
}
