package order

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/customer"
	"github.com/xenking/order-service/internal/domain/event"
	"github.com/xenking/order-service/internal/domain/payment"
	"github.com/xenking/order-service/internal/domain/pricing"
)

// memRepo enforces key uniqueness the way the unique index does.
type memRepo struct {
	mu          sync.Mutex
	orders      map[string]*Order
	keys        map[string]string
	createCalls int

	findErr   error
	createErr error
	getErr    error
	setErr    error
}

func newMemRepo() *memRepo {
	return &memRepo{orders: map[string]*Order{}, keys: map[string]string{}}
}

func (r *memRepo) FindByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	id, ok := r.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	o := *r.orders[id]
	return &o, nil
}

func (r *memRepo) CreateWithIdempotency(_ context.Context, key string, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.keys[key]; ok {
		return ErrDuplicateIdempotencyKey
	}
	stored := *o
	r.orders[o.ID] = &stored
	r.keys[key] = o.ID
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListByCustomer(_ context.Context, customerID string) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.CustomerID != customerID {
			continue
		}
		cp := *o
		cp.Cart = nil
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r *memRepo) SetPaymentStatus(_ context.Context, id string, status PaymentStatus) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return nil, r.setErr
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.PaymentStatus != PaymentPending && o.PaymentStatus != status {
		cp := *o
		return &cp, ErrPaymentStatusResolved
	}
	o.PaymentStatus = status
	cp := *o
	return &cp, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeCache struct {
	products map[string]pricing.ProductPricing
	toppings map[string]int64

	mu    sync.Mutex
	calls int
	gate  func()
}

func (c *fakeCache) ProductPricings(_ context.Context, ids []string) (map[string]pricing.ProductPricing, error) {
	c.mu.Lock()
	c.calls++
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		gate()
	}

	out := make(map[string]pricing.ProductPricing, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *fakeCache) ToppingPrices(_ context.Context, _ string, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		if p, ok := c.toppings[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *fakeCache) pricingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeGateway struct {
	mu        sync.Mutex
	created   []payment.SessionParams
	createErr error
	sessions  map[string]*payment.Session
	getErr    error
}

func (g *fakeGateway) CreateSession(_ context.Context, p payment.SessionParams) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, p)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &payment.Session{
		ID:       "cs_" + p.OrderID,
		URL:      "https://pay.example.com/s/" + p.IdempotencyKey,
		OrderID:  p.OrderID,
		TenantID: p.TenantID,
	}, nil
}

func (g *fakeGateway) GetSession(_ context.Context, id string) (*payment.Session, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, errors.New("no such session")
	}
	return s, nil
}

type publishedEvent struct {
	typ  event.Type
	key  string
	data any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, typ event.Type, key string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{typ: typ, key: key, data: data})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

type fakeCustomers map[string]*customer.Customer

func (f fakeCustomers) FindByUserID(_ context.Context, userID string) (*customer.Customer, error) {
	c, ok := f[userID]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return c, nil
}

var _ Authorizer = (*access.Policy)(nil)
