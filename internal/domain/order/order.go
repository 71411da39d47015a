package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order (or an idempotency record) does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrPersistence marks storage failures. Nothing was committed when it is
	// returned from Create.
	ErrPersistence = errors.New("order persistence failed")
	// ErrDuplicateIdempotencyKey is returned by Repository.CreateWithIdempotency
	// when another submission already committed the same key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrPaymentStatusResolved is returned by Repository.SetPaymentStatus when
	// the order already carries a different terminal payment status.
	ErrPaymentStatusResolved = errors.New("payment status already resolved")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("invalid order request")
)

// PaymentMode is how the customer pays.
type PaymentMode string

const (
	PaymentModeCard PaymentMode = "card"
	PaymentModeCash PaymentMode = "cash"
)

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	return m == PaymentModeCard || m == PaymentModeCash
}

// Status is the fulfillment status of an order. This service only ever sets
// StatusReceived; later transitions belong to fulfillment.
type Status string

const (
	StatusReceived       Status = "received"
	StatusConfirmed      Status = "confirmed"
	StatusPrepared       Status = "prepared"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
)

// PaymentStatus moves from PaymentPending to PaymentPaid or PaymentFailed once.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Order is a placed order. Amounts are in the smallest currency unit.
type Order struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenantId"`
	CustomerID      string             `json:"customerId"`
	Cart            []pricing.CartItem `json:"cart,omitempty"`
	Address         string             `json:"address"`
	Comment         string             `json:"comment,omitempty"`
	DeliveryCharges int64              `json:"deliveryCharges"`
	Discount        int64              `json:"discount"`
	Taxes           int64              `json:"taxes"`
	Total           int64              `json:"total"`
	PaymentMode     PaymentMode        `json:"paymentMode"`
	OrderStatus     Status             `json:"orderStatus"`
	PaymentStatus   PaymentStatus      `json:"paymentStatus"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Resource returns the ownership attributes checked by the access policy.
func (o *Order) Resource() access.Resource {
	return access.Resource{TenantID: o.TenantID, CustomerID: o.CustomerID}
}

// Draft is a cart submission before pricing.
type Draft struct {
	Cart        []pricing.CartItem
	CouponCode  string
	TenantID    string
	CustomerID  string
	PaymentMode PaymentMode
	Address     string
	Comment     string
}

// Validate checks the fields the pricing pipeline relies on.
func (d *Draft) Validate() error {
	switch {
	case len(d.Cart) == 0:
		return fmt.Errorf("%w: cart is empty", ErrValidation)
	case d.TenantID == "":
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	case d.CustomerID == "":
		return fmt.Errorf("%w: customerId is required", ErrValidation)
	case d.Address == "":
		return fmt.Errorf("%w: address is required", ErrValidation)
	case !d.PaymentMode.Valid():
		return fmt.Errorf("%w: unknown payment mode %q", ErrValidation, d.PaymentMode)
	}
	// Authoritative quantity check for order placement.
	for _, item := range d.Cart {
		if item.Qty <= 0 {
			return fmt.Errorf("%w: %w", ErrValidation, &pricing.InvalidQuantityError{ProductID: item.ProductID, Qty: item.Qty})
		}
	}
	return nil
}

// Repository persists orders and their idempotency records.
type Repository interface {
	// FindByIdempotencyKey returns the order snapshot stored with key, or
	// ErrNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// CreateWithIdempotency inserts the order and its idempotency record in a
	// single transaction. Returns ErrDuplicateIdempotencyKey when key exists.
	CreateWithIdempotency(ctx context.Context, key string, o *Order) error
	// Get returns the full order, or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// ListByCustomer returns the customer's orders without their carts,
	// newest first.
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	// SetPaymentStatus sets the payment status of a pending order, or of an
	// order already in that status, and returns the updated order. Returns
	// the current order and ErrPaymentStatusResolved for any other status.
	SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error)
}
