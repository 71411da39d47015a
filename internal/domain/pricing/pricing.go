package pricing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ErrPricingDataMissing is returned when a cart references a product (or one
// of its configured attributes) that is absent from the pricing cache.
var ErrPricingDataMissing = errors.New("pricing data missing")

// Topping is a topping selected for a cart item. Price is the value the client
// saw when building the cart and is used only when the topping is missing
// from the cache.
type Topping struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Price int64  `json:"price"`
}

// ChosenConfiguration holds the selected option per configurable attribute
// (e.g. "Size" -> "Large") and the selected toppings.
type ChosenConfiguration struct {
	PriceConfiguration map[string]string `json:"priceConfiguration"`
	SelectedToppings   []Topping         `json:"selectedToppings"`
}

// CartItem is a single line of a submitted cart.
type CartItem struct {
	ProductID           string              `json:"_id"`
	Name                string              `json:"name,omitempty"`
	Qty                 int                 `json:"qty"`
	ChosenConfiguration ChosenConfiguration `json:"chosenConfiguration"`
}

// AttributePricing maps every available option of an attribute to its price.
type AttributePricing struct {
	PriceType        string           `json:"priceType,omitempty" bson:"priceType,omitempty"`
	AvailableOptions map[string]int64 `json:"availableOptions" bson:"availableOptions"`
}

// ProductPricing is the cached pricing schema of a product.
type ProductPricing struct {
	ProductID  string                      `bson:"productId"`
	Attributes map[string]AttributePricing `bson:"priceConfiguration"`
}

// ToppingPrice is the cached price of a topping for a tenant.
type ToppingPrice struct {
	ToppingID string `bson:"toppingId"`
	TenantID  string `bson:"tenantId"`
	Price     int64  `bson:"price"`
}

// Cache is a read-only view of the externally maintained pricing tables.
// Missing ids are simply absent from the returned maps.
type Cache interface {
	ProductPricings(ctx context.Context, productIDs []string) (map[string]ProductPricing, error)
	ToppingPrices(ctx context.Context, tenantID string, toppingIDs []string) (map[string]int64, error)
}

// PricingDataMissingError identifies the cache entry that could not be found.
// Attribute and Option are empty when the whole product is missing.
type PricingDataMissingError struct {
	ProductID string
	Attribute string
	Option    string
}

func (e *PricingDataMissingError) Error() string {
	switch {
	case e.Attribute == "":
		return fmt.Sprintf("pricing for product %s not found in cache", e.ProductID)
	case e.Option == "":
		return fmt.Sprintf("attribute %q of product %s not found in cache", e.Attribute, e.ProductID)
	default:
		return fmt.Sprintf("option %q of attribute %q of product %s not found in cache", e.Option, e.Attribute, e.ProductID)
	}
}

// Unwrap makes errors.Is(err, ErrPricingDataMissing) hold.
func (e *PricingDataMissingError) Unwrap() error { return ErrPricingDataMissing }

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
	Qty       int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s, got %d", e.ProductID, e.Qty)
}
