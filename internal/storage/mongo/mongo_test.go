//go:build integration

package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/xenking/order-service/internal/domain/pricing"
)

func setupCache(t *testing.T) *PricingCache {
	t.Helper()
	ctx := context.Background()

	ctr, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := Connect(ctx, uri, "orders_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })

	cache := NewPricingCache(db)
	require.NoError(t, cache.EnsureIndexes(ctx))
	return cache
}

func TestPricingCache(t *testing.T) {
	cache := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.UpsertProduct(ctx, pricing.ProductPricing{
		ProductID: "margherita",
		Attributes: map[string]pricing.AttributePricing{
			"Size": {PriceType: "base", AvailableOptions: map[string]int64{"Small": 400, "Large": 600}},
		},
	}))
	require.NoError(t, cache.UpsertProduct(ctx, pricing.ProductPricing{
		ProductID: "soda",
		Attributes: map[string]pricing.AttributePricing{
			"Size": {PriceType: "base", AvailableOptions: map[string]int64{"Can": 60}},
		},
	}))
	require.NoError(t, cache.UpsertTopping(ctx, pricing.ToppingPrice{ToppingID: "cheese", TenantID: "t1", Price: 50}))
	require.NoError(t, cache.UpsertTopping(ctx, pricing.ToppingPrice{ToppingID: "cheese", TenantID: "t2", Price: 70}))
	// Upserting again replaces instead of duplicating.
	require.NoError(t, cache.UpsertTopping(ctx, pricing.ToppingPrice{ToppingID: "cheese", TenantID: "t1", Price: 55}))

	t.Run("products", func(t *testing.T) {
		got, err := cache.ProductPricings(ctx, []string{"margherita", "calzone"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(600), got["margherita"].Attributes["Size"].AvailableOptions["Large"])
	})

	t.Run("toppings are tenant scoped", func(t *testing.T) {
		got, err := cache.ToppingPrices(ctx, "t1", []string{"cheese", "olives"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"cheese": 55}, got)

		got, err = cache.ToppingPrices(ctx, "t3", []string{"cheese"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("calculator end to end", func(t *testing.T) {
		total, err := pricing.NewCalculator(cache).CartTotal(ctx, "t2", []pricing.CartItem{{
			ProductID: "margherita",
			Qty:       2,
			ChosenConfiguration: pricing.ChosenConfiguration{
				PriceConfiguration: map[string]string{"Size": "Small"},
				SelectedToppings:   []pricing.Topping{{ID: "cheese", Price: 1}},
			},
		}})
		require.NoError(t, err)
		assert.Equal(t, int64(2*(400+70)), total)
	})
}
