//go:build integration

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/order-service/internal/domain/coupon"
	"github.com/xenking/order-service/internal/domain/customer"
	"github.com/xenking/order-service/internal/domain/event"
	"github.com/xenking/order-service/internal/domain/payment"
	"github.com/xenking/order-service/internal/domain/pricing"
	"github.com/xenking/order-service/internal/handler"
	"github.com/xenking/order-service/internal/storage/mongo"
	"github.com/xenking/order-service/internal/storage/postgres"
	redisstore "github.com/xenking/order-service/internal/storage/redis"
)

const (
	testJWTSecret     = "jwt-secret"
	testWebhookSecret = "whsec_test"
)

type checkoutGateway struct {
	mu       sync.Mutex
	sessions map[string]payment.Session
}

func (g *checkoutGateway) CreateSession(_ context.Context, p payment.SessionParams) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := payment.Session{
		ID:       "cs_" + p.OrderID,
		URL:      "https://checkout.example/" + p.OrderID,
		OrderID:  p.OrderID,
		TenantID: p.TenantID,
	}
	g.sessions[s.ID] = s
	return &s, nil
}

// GetSession reports every known session as paid.
func (g *checkoutGateway) GetSession(_ context.Context, id string) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, payment.ErrGatewayVerification
	}
	s.PaymentStatus = payment.StatusPaid
	return &s, nil
}

type recordingBroker struct {
	mu   sync.Mutex
	msgs []event.Message
}

func (b *recordingBroker) Send(_ context.Context, msg event.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *recordingBroker) types() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Type, 0, len(b.msgs))
	for _, m := range b.msgs {
		out = append(out, m.Type)
	}
	return out
}

type apiEnv struct {
	server  *httptest.Server
	gateway *checkoutGateway
	broker  *recordingBroker
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("orders"),
		tcpostgres.WithPassword("orders"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, pg)
	require.NoError(t, err)
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))

	mg, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, mg)
	require.NoError(t, err)
	uri, err := mg.ConnectionString(ctx)
	require.NoError(t, err)

	catalog, err := mongo.Connect(ctx, uri, "catalog_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Client().Disconnect(context.Background()) })
	pricingCache := mongo.NewPricingCache(catalog)
	require.NoError(t, pricingCache.EnsureIndexes(ctx))

	rdb := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Margherita Large with thick crust and cheese is 500 before the coupon.
	require.NoError(t, pricingCache.UpsertProduct(ctx, pricing.ProductPricing{
		ProductID: "margherita",
		Attributes: map[string]pricing.AttributePricing{
			"Size":  {PriceType: "base", AvailableOptions: map[string]int64{"Small": 200, "Large": 400}},
			"Crust": {PriceType: "additional", AvailableOptions: map[string]int64{"Thin": 0, "Thick": 50}},
		},
	}))
	require.NoError(t, pricingCache.UpsertTopping(ctx, pricing.ToppingPrice{ToppingID: "cheese", TenantID: "tenant-1", Price: 50}))

	customers := postgres.NewCustomerRepository(pool)
	require.NoError(t, customers.Upsert(ctx, &customer.Customer{ID: "c1", UserID: "user-1", FirstName: "Ada"}))
	coupons := postgres.NewCouponRepository(pool)
	require.NoError(t, coupons.Create(ctx, &coupon.Coupon{
		Code:      "PIZZA20",
		TenantID:  "tenant-1",
		Title:     "Twenty off",
		Discount:  decimal.NewFromInt(20),
		ValidUpto: time.Now().Add(24 * time.Hour).UTC(),
	}))

	cfg := &Config{
		Kafka:     KafkaConfig{Topic: "order"},
		Stripe:    StripeConfig{WebhookSecret: testWebhookSecret},
		Auth:      AuthConfig{JWTSecret: testJWTSecret},
		Pricing:   PricingConfig{TaxPercent: "18", DeliveryFee: 100, Currency: "inr"},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
	}
	e := &apiEnv{
		gateway: &checkoutGateway{sessions: make(map[string]payment.Session)},
		broker:  &recordingBroker{},
	}
	api, err := newAPI(cfg, apiDeps{
		Orders:     postgres.NewOrderRepository(pool),
		Customers:  customers,
		Coupons:    redisstore.NewCouponCache(rdb, coupons, time.Minute),
		Pricing:    pricingCache,
		Gateway:    e.gateway,
		Broker:     e.broker,
		LimitStore: redisstore.NewLimitStore(rdb),
		Tracer:     tracenoop.NewTracerProvider(),
		Meter:      metricnoop.NewMeterProvider(),
	})
	require.NoError(t, err)

	e.server = httptest.NewServer(api)
	t.Cleanup(e.server.Close)
	return e
}

func (e *apiEnv) request(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func bearer(t *testing.T, sub, role, tenant string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, handler.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:   role,
		Tenant: tenant,
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func orderBody(mode string) string {
	return fmt.Sprintf(`{
		"cart": [{
			"_id": "margherita",
			"qty": 1,
			"chosenConfiguration": {
				"priceConfiguration": {"Size": "Large", "Crust": "Thick"},
				"selectedToppings": [{"id": "cheese", "price": 50}]
			}
		}],
		"couponCode": "PIZZA20",
		"tenantId": "tenant-1",
		"customerId": "c1",
		"paymentMode": %q,
		"address": "221B Baker Street"
	}`, mode)
}

func TestOrderLifecycle(t *testing.T) {
	e := setupAPI(t)
	customerAuth := bearer(t, "user-1", "customer", "")

	t.Run("cash order is created once", func(t *testing.T) {
		headers := map[string]string{"Authorization": customerAuth, "Idempotency-Key": "cash-1"}

		resp, body := e.request(t, http.MethodPost, "/orders", orderBody("cash"), headers)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		assert.JSONEq(t, `{"paymentUrl": null}`, string(body))

		resp, body = e.request(t, http.MethodPost, "/orders", orderBody("cash"), headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.JSONEq(t, `{"paymentUrl": null}`, string(body))

		// A used key replays whatever the payload.
		resp, body = e.request(t, http.MethodPost, "/orders", `{"cart": []}`, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.JSONEq(t, `{"paymentUrl": null}`, string(body))

		resp, body = e.request(t, http.MethodGet, "/orders/mine", "", map[string]string{"Authorization": customerAuth})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var mine []map[string]any
		require.NoError(t, json.Unmarshal(body, &mine))
		require.Len(t, mine, 1)
		assert.EqualValues(t, 572, mine[0]["total"])
		assert.EqualValues(t, 100, mine[0]["discount"])
		assert.EqualValues(t, 72, mine[0]["taxes"])
		assert.EqualValues(t, 100, mine[0]["deliveryCharges"])
		assert.Equal(t, "pending", mine[0]["paymentStatus"])
		assert.NotContains(t, mine[0], "cart")

		// Replays publish again; consumers key by order id.
		assert.Equal(t, []event.Type{event.TypeOrderCreate, event.TypeOrderCreate, event.TypeOrderCreate}, e.broker.types())
	})

	t.Run("card order is settled by the webhook", func(t *testing.T) {
		headers := map[string]string{"Authorization": customerAuth, "Idempotency-Key": "card-1"}

		resp, body := e.request(t, http.MethodPost, "/orders", orderBody("card"), headers)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

		var created struct {
			PaymentURL string `json:"paymentUrl"`
		}
		require.NoError(t, json.Unmarshal(body, &created))
		orderID := strings.TrimPrefix(created.PaymentURL, "https://checkout.example/")
		require.NotEmpty(t, orderID)

		payload := fmt.Sprintf(`{
			"id": "evt_1",
			"object": "event",
			"api_version": %q,
			"type": "checkout.session.completed",
			"data": {"object": {"id": "cs_%s", "object": "checkout.session"}}
		}`, stripe.APIVersion, orderID)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(payload),
			Secret:    testWebhookSecret,
			Timestamp: time.Now(),
		})
		resp, body = e.request(t, http.MethodPost, "/payments/webhook", payload, map[string]string{
			"Stripe-Signature": signed.Header,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		resp, body = e.request(t, http.MethodGet, "/orders/"+orderID+"?fields=paymentStatus,total", "",
			map[string]string{"Authorization": customerAuth})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.JSONEq(t, fmt.Sprintf(`{"id": %q, "paymentStatus": "paid", "total": 572}`, orderID), string(body))
	})

	t.Run("orders are tenant scoped for managers", func(t *testing.T) {
		resp, body := e.request(t, http.MethodGet, "/orders/mine", "", map[string]string{"Authorization": customerAuth})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var mine []map[string]any
		require.NoError(t, json.Unmarshal(body, &mine))
		require.Len(t, mine, 2)
		id := mine[0]["id"].(string)

		resp, _ = e.request(t, http.MethodGet, "/orders/"+id, "",
			map[string]string{"Authorization": bearer(t, "mgr-1", "manager", "tenant-1")})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = e.request(t, http.MethodGet, "/orders/"+id, "",
			map[string]string{"Authorization": bearer(t, "mgr-2", "manager", "tenant-2")})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = e.request(t, http.MethodGet, "/orders/"+id, "",
			map[string]string{"Authorization": bearer(t, "admin-1", "admin", "")})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	assert.Equal(t, []event.Type{
		event.TypeOrderCreate,
		event.TypeOrderCreate,
		event.TypeOrderCreate,
		event.TypeOrderCreate,
		event.TypePaymentStatusUpdate,
	}, e.broker.types())
}
