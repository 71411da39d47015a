package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/customer"
	"github.com/xenking/order-service/internal/domain/pricing"
)

func seededReader(t *testing.T) (*Reader, *memRepo) {
	t.Helper()

	repo := newMemRepo()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, o := range []Order{
		{ID: "o1", TenantID: "t1", CustomerID: "c1", Total: 572, CreatedAt: base},
		{ID: "o2", TenantID: "t1", CustomerID: "c1", Total: 100, CreatedAt: base.Add(time.Hour)},
		{ID: "o3", TenantID: "t2", CustomerID: "c2", Total: 300, CreatedAt: base},
	} {
		o.Cart = []pricing.CartItem{{ProductID: "margherita", Qty: 1}}
		o.OrderStatus = StatusReceived
		o.PaymentStatus = PaymentPending
		require.NoError(t, repo.CreateWithIdempotency(context.Background(), string(rune('a'+i)), &o))
	}

	customers := fakeCustomers{
		"user-1": {ID: "c1", UserID: "user-1"},
		"user-2": {ID: "c2", UserID: "user-2"},
	}
	return NewReader(repo, access.NewPolicy(customers), customers), repo
}

func TestReader_Get(t *testing.T) {
	r, _ := seededReader(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     access.Requester
		id      string
		wantErr error
	}{
		{name: "admin reads any order", req: access.Requester{Subject: "root", Role: access.RoleAdmin}, id: "o3"},
		{name: "manager of tenant", req: access.Requester{Subject: "m", Role: access.RoleManager, TenantID: "t1"}, id: "o1"},
		{name: "manager of other tenant", req: access.Requester{Subject: "m", Role: access.RoleManager, TenantID: "t1"}, id: "o3", wantErr: access.ErrDenied},
		{name: "owning customer", req: access.Requester{Subject: "user-1", Role: access.RoleCustomer}, id: "o2"},
		{name: "other customer", req: access.Requester{Subject: "user-2", Role: access.RoleCustomer}, id: "o1", wantErr: access.ErrDenied},
		{name: "unknown order is not found, not denied", req: access.Requester{Subject: "user-2", Role: access.RoleCustomer}, id: "missing", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Get(ctx, tt.req, tt.id, Projection{})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, got["id"])
		})
	}
}

func TestReader_Get_ProjectionAfterAccessCheck(t *testing.T) {
	r, _ := seededReader(t)
	p, err := ParseProjection("total")
	require.NoError(t, err)

	// tenantId and customerId are not selected but still drive the decision.
	_, err = r.Get(context.Background(), access.Requester{Subject: "user-2", Role: access.RoleCustomer}, "o1", p)
	require.ErrorIs(t, err, access.ErrDenied)

	got, err := r.Get(context.Background(), access.Requester{Subject: "user-1", Role: access.RoleCustomer}, "o1", p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "o1", "total": int64(572)}, got)
}

func TestReader_Get_StorageFailure(t *testing.T) {
	r, repo := seededReader(t)
	repo.getErr = errors.New("connection reset")

	_, err := r.Get(context.Background(), access.Requester{Role: access.RoleAdmin}, "o1", Projection{})
	require.ErrorIs(t, err, ErrPersistence)
}

func TestReader_ListMine(t *testing.T) {
	r, _ := seededReader(t)

	orders, err := r.ListMine(context.Background(), access.Requester{Subject: "user-1", Role: access.RoleCustomer})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].ID, "newest first")
	assert.Equal(t, "o1", orders[1].ID)
	for _, o := range orders {
		assert.Nil(t, o.Cart)
	}

	_, err = r.ListMine(context.Background(), access.Requester{Subject: "stranger", Role: access.RoleCustomer})
	require.ErrorIs(t, err, customer.ErrNotFound)
}
