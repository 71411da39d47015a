package order

import (
	"fmt"
	"strings"
)

// UnknownFieldError is returned for a projection naming a field that is not
// part of the order document.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown order field %q", e.Field)
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *UnknownFieldError) Unwrap() error { return ErrValidation }

// projectable is the allow-list of fields a client may select.
var projectable = map[string]func(o *Order) any{
	"id":              func(o *Order) any { return o.ID },
	"tenantId":        func(o *Order) any { return o.TenantID },
	"customerId":      func(o *Order) any { return o.CustomerID },
	"cart":            func(o *Order) any { return o.Cart },
	"address":         func(o *Order) any { return o.Address },
	"comment":         func(o *Order) any { return o.Comment },
	"deliveryCharges": func(o *Order) any { return o.DeliveryCharges },
	"discount":        func(o *Order) any { return o.Discount },
	"taxes":           func(o *Order) any { return o.Taxes },
	"total":           func(o *Order) any { return o.Total },
	"paymentMode":     func(o *Order) any { return o.PaymentMode },
	"orderStatus":     func(o *Order) any { return o.OrderStatus },
	"paymentStatus":   func(o *Order) any { return o.PaymentStatus },
	"createdAt":       func(o *Order) any { return o.CreatedAt },
	"updatedAt":       func(o *Order) any { return o.UpdatedAt },
}

// Projection selects order fields for a response. The zero value selects
// every field.
type Projection struct {
	fields []string
}

// ParseProjection parses a comma separated field list such as
// "orderStatus,paymentStatus". Blank entries are ignored, duplicates are
// collapsed and unknown names are rejected.
func ParseProjection(raw string) (Projection, error) {
	var (
		p    Projection
		seen = make(map[string]struct{})
	)
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := projectable[f]; !ok {
			return Projection{}, &UnknownFieldError{Field: f}
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		p.fields = append(p.fields, f)
	}
	return p, nil
}

// Fields returns the selected field names, nil when all fields are selected.
func (p Projection) Fields() []string { return p.fields }

// Apply renders o restricted to the projection. The id is always included.
func (p Projection) Apply(o *Order) map[string]any {
	if len(p.fields) == 0 {
		out := make(map[string]any, len(projectable))
		for name, get := range projectable {
			out[name] = get(o)
		}
		return out
	}

	out := make(map[string]any, len(p.fields)+1)
	out["id"] = o.ID
	for _, name := range p.fields {
		out[name] = projectable[name](o)
	}
	return out
}
