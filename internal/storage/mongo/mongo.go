// Package mongo reads the product and topping pricing caches maintained by
// the catalog service.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/order-service/internal/domain/pricing"
)

const (
	productCacheCollection = "productCache"
	toppingCacheCollection = "toppingCache"
)

// Connect opens a client and returns the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client.Database(database), nil
}

var _ pricing.Cache = (*PricingCache)(nil)

// PricingCache implements pricing.Cache on the productCache and toppingCache
// collections.
type PricingCache struct {
	products *mongo.Collection
	toppings *mongo.Collection
}

// NewPricingCache returns a PricingCache reading from db.
func NewPricingCache(db *mongo.Database) *PricingCache {
	return &PricingCache{
		products: db.Collection(productCacheCollection),
		toppings: db.Collection(toppingCacheCollection),
	}
}

// EnsureIndexes creates the lookup indexes both caches are queried by.
func (c *PricingCache) EnsureIndexes(ctx context.Context) error {
	if _, err := c.products.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "productId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("creating product cache index: %w", err)
	}
	if _, err := c.toppings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "toppingId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("creating topping cache index: %w", err)
	}
	return nil
}

// ProductPricings loads the pricing of every listed product in one query.
func (c *PricingCache) ProductPricings(ctx context.Context, productIDs []string) (map[string]pricing.ProductPricing, error) {
	out := make(map[string]pricing.ProductPricing, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	cursor, err := c.products.Find(ctx, bson.M{"productId": bson.M{"$in": productIDs}})
	if err != nil {
		return nil, fmt.Errorf("finding product pricing: %w", err)
	}
	var docs []pricing.ProductPricing
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding product pricing: %w", err)
	}

	for _, d := range docs {
		out[d.ProductID] = d
	}
	return out, nil
}

// ToppingPrices loads the tenant's price of every listed topping in one query.
func (c *PricingCache) ToppingPrices(ctx context.Context, tenantID string, toppingIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(toppingIDs))
	if len(toppingIDs) == 0 {
		return out, nil
	}

	cursor, err := c.toppings.Find(ctx, bson.M{
		"tenantId":  tenantID,
		"toppingId": bson.M{"$in": toppingIDs},
	})
	if err != nil {
		return nil, fmt.Errorf("finding topping prices: %w", err)
	}
	var docs []pricing.ToppingPrice
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding topping prices: %w", err)
	}

	for _, d := range docs {
		out[d.ToppingID] = d.Price
	}
	return out, nil
}

// UpsertProduct replaces the cached pricing of a product.
func (c *PricingCache) UpsertProduct(ctx context.Context, p pricing.ProductPricing) error {
	_, err := c.products.ReplaceOne(ctx,
		bson.M{"productId": p.ProductID}, p,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting product pricing %q: %w", p.ProductID, err)
	}
	return nil
}

// UpsertTopping replaces the cached price of a tenant's topping.
func (c *PricingCache) UpsertTopping(ctx context.Context, t pricing.ToppingPrice) error {
	_, err := c.toppings.ReplaceOne(ctx,
		bson.M{"tenantId": t.TenantID, "toppingId": t.ToppingID}, t,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting topping price %q: %w", t.ToppingID, err)
	}
	return nil
}
