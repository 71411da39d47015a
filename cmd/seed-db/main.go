// Command seed-db loads development fixtures: pricing cache documents into
// MongoDB, customers and coupons into PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-service/internal/domain/coupon"
	"github.com/xenking/order-service/internal/domain/customer"
	"github.com/xenking/order-service/internal/domain/pricing"
	"github.com/xenking/order-service/internal/storage/mongo"
	"github.com/xenking/order-service/internal/storage/postgres"
)

type productJSON struct {
	ProductID  string                      `json:"productId"`
	Attributes map[string]attributePricing `json:"priceConfiguration"`
}

type attributePricing struct {
	PriceType        string           `json:"priceType"`
	AvailableOptions map[string]int64 `json:"availableOptions"`
}

type toppingJSON struct {
	ToppingID string `json:"toppingId"`
	TenantID  string `json:"tenantId"`
	Price     int64  `json:"price"`
}

type customerJSON struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Addresses []struct {
		Text      string `json:"text"`
		IsDefault bool   `json:"isDefault"`
	} `json:"addresses"`
}

type couponJSON struct {
	Code      string          `json:"code"`
	TenantID  string          `json:"tenantId"`
	Title     string          `json:"title"`
	Discount  decimal.Decimal `json:"discount"`
	ValidUpto time.Time       `json:"validUpto"`
}

type seedFile struct {
	Products  []productJSON  `json:"products"`
	Toppings  []toppingJSON  `json:"toppings"`
	Customers []customerJSON `json:"customers"`
	Coupons   []couponJSON   `json:"coupons"`
}

func main() {
	var (
		databaseURL   string
		mongoURI      string
		mongoDatabase string
		seedPath      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB URI of the pricing cache (or ORDERS_MONGO_URI env)")
	flag.StringVar(&mongoDatabase, "mongo-database", "catalog", "MongoDB database of the pricing cache")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to the fixtures JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if v := os.Getenv("ORDERS_MONGO_URI"); v != "" {
		mongoURI = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, mongoURI, mongoDatabase, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, mongoURI, mongoDatabase, seedPath string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	slog.Info("connecting to mongodb")

	catalog, err := mongo.Connect(ctx, mongoURI, mongoDatabase)
	if err != nil {
		return errors.Wrap(err, "connect to mongodb")
	}
	defer func() { _ = catalog.Client().Disconnect(context.Background()) }()

	cache := mongo.NewPricingCache(catalog)
	if err := cache.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}
	if err := seedPricing(ctx, cache, seed); err != nil {
		return errors.Wrap(err, "seed pricing cache")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCustomers(ctx, postgres.NewCustomerRepository(pool), seed.Customers); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), seed.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedPricing(ctx context.Context, cache *mongo.PricingCache, seed seedFile) error {
	slog.Info("upserting product pricing", slog.Int("count", len(seed.Products)))

	for _, p := range seed.Products {
		attrs := make(map[string]pricing.AttributePricing, len(p.Attributes))
		for name, a := range p.Attributes {
			attrs[name] = pricing.AttributePricing{PriceType: a.PriceType, AvailableOptions: a.AvailableOptions}
		}
		if err := cache.UpsertProduct(ctx, pricing.ProductPricing{ProductID: p.ProductID, Attributes: attrs}); err != nil {
			return err
		}
		slog.Info("upserted product pricing", slog.String("id", p.ProductID))
	}

	slog.Info("upserting topping prices", slog.Int("count", len(seed.Toppings)))

	for _, t := range seed.Toppings {
		if err := cache.UpsertTopping(ctx, pricing.ToppingPrice(t)); err != nil {
			return err
		}
	}
	return nil
}

func seedCustomers(ctx context.Context, repo *postgres.CustomerRepository, customers []customerJSON) error {
	for _, c := range customers {
		addrs := make([]customer.Address, len(c.Addresses))
		for i, a := range c.Addresses {
			addrs[i] = customer.Address{Text: a.Text, IsDefault: a.IsDefault}
		}
		if err := repo.Upsert(ctx, &customer.Customer{
			ID:        c.ID,
			UserID:    c.UserID,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     c.Email,
			Addresses: addrs,
		}); err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.ID)
		}
		slog.Info("upserted customer", slog.String("id", c.ID), slog.String("user_id", c.UserID))
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, coupons []couponJSON) error {
	for _, c := range coupons {
		err := repo.Create(ctx, &coupon.Coupon{
			Code:      c.Code,
			TenantID:  c.TenantID,
			Title:     c.Title,
			Discount:  c.Discount,
			ValidUpto: c.ValidUpto,
		})
		switch {
		case errors.Is(err, coupon.ErrAlreadyIssued):
			slog.Info("coupon already issued", slog.String("code", c.Code), slog.String("tenant", c.TenantID))
		case err != nil:
			return errors.Wrapf(err, "issue coupon %s", c.Code)
		default:
			slog.Info("issued coupon", slog.String("code", c.Code), slog.String("tenant", c.TenantID))
		}
	}
	return nil
}
