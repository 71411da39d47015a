package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var hundred = decimal.NewFromInt(100)

// Breakdown is the priced result of a cart. Every derived amount is rounded
// on its own, so Total always equals Taxable + Taxes + DeliveryCharges.
type Breakdown struct {
	Subtotal        int64
	Discount        int64
	Taxable         int64
	Taxes           int64
	DeliveryCharges int64
	Total           int64
}

// ComputeCartTotal returns the pre-discount total of the cart.
//
// A topping missing from the cache is priced at the price carried by the cart.
// A product, attribute or option missing from the cache fails the whole
// calculation with *PricingDataMissingError.
func ComputeCartTotal(cart []CartItem, products map[string]ProductPricing, toppings map[string]int64) (int64, error) {
	var total int64
	for _, item := range cart {
		// order.Draft.Validate rejects these before an order is priced; this
		// guards callers that compute totals directly.
		if item.Qty <= 0 {
			return 0, &InvalidQuantityError{ProductID: item.ProductID, Qty: item.Qty}
		}
		unit, err := unitPrice(item, products, toppings)
		if err != nil {
			return 0, err
		}
		total += unit * int64(item.Qty)
	}
	return total, nil
}

func unitPrice(item CartItem, products map[string]ProductPricing, toppings map[string]int64) (int64, error) {
	p, ok := products[item.ProductID]
	if !ok {
		return 0, &PricingDataMissingError{ProductID: item.ProductID}
	}

	var price int64
	for attr, option := range item.ChosenConfiguration.PriceConfiguration {
		ap, ok := p.Attributes[attr]
		if !ok {
			return 0, &PricingDataMissingError{ProductID: item.ProductID, Attribute: attr}
		}
		v, ok := ap.AvailableOptions[option]
		if !ok {
			return 0, &PricingDataMissingError{ProductID: item.ProductID, Attribute: attr, Option: option}
		}
		price += v
	}

	for _, t := range item.ChosenConfiguration.SelectedToppings {
		if v, ok := toppings[t.ID]; ok {
			price += v
			continue
		}
		price += t.Price
	}
	return price, nil
}

// ApplyDiscountTaxAndFees turns a subtotal into the final charge. Discount and
// taxes are rounded half-up to the smallest currency unit.
func ApplyDiscountTaxAndFees(subtotal int64, discountPct, taxPct decimal.Decimal, deliveryFee int64) Breakdown {
	discount := percentOf(subtotal, discountPct)
	taxable := subtotal - discount
	taxes := percentOf(taxable, taxPct)
	return Breakdown{
		Subtotal:        subtotal,
		Discount:        discount,
		Taxable:         taxable,
		Taxes:           taxes,
		DeliveryCharges: deliveryFee,
		Total:           taxable + taxes + deliveryFee,
	}
}

// percentOf computes round(amount * pct / 100). decimal.Round rounds half away
// from zero, which is half-up for the non-negative amounts used here.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	if pct.IsZero() || amount == 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// Calculator prices carts against a Cache.
type Calculator struct {
	cache Cache
}

// NewCalculator creates a Calculator reading from cache.
func NewCalculator(cache Cache) *Calculator {
	return &Calculator{cache: cache}
}

// CartTotal fetches the product and topping pricing referenced by the cart in
// one round trip each and computes the pre-discount total.
func (c *Calculator) CartTotal(ctx context.Context, tenantID string, cart []CartItem) (int64, error) {
	productIDs, toppingIDs := collectIDs(cart)

	var (
		products map[string]ProductPricing
		toppings map[string]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if products, err = c.cache.ProductPricings(gctx, productIDs); err != nil {
			return errors.Wrap(err, "fetch product pricing")
		}
		return nil
	})
	if len(toppingIDs) > 0 {
		g.Go(func() error {
			var err error
			if toppings, err = c.cache.ToppingPrices(gctx, tenantID, toppingIDs); err != nil {
				return errors.Wrap(err, "fetch topping prices")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	return ComputeCartTotal(cart, products, toppings)
}

func collectIDs(cart []CartItem) (productIDs, toppingIDs []string) {
	seenProducts := make(map[string]struct{}, len(cart))
	seenToppings := make(map[string]struct{})
	for _, item := range cart {
		if _, ok := seenProducts[item.ProductID]; !ok {
			seenProducts[item.ProductID] = struct{}{}
			productIDs = append(productIDs, item.ProductID)
		}
		for _, t := range item.ChosenConfiguration.SelectedToppings {
			if _, ok := seenToppings[t.ID]; !ok {
				seenToppings[t.ID] = struct{}{}
				toppingIDs = append(toppingIDs, t.ID)
			}
		}
	}
	return productIDs, toppingIDs
}
