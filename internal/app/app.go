package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v83"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/order-service/internal/broker/kafka"
	"github.com/xenking/order-service/internal/domain/access"
	"github.com/xenking/order-service/internal/domain/coupon"
	"github.com/xenking/order-service/internal/domain/customer"
	"github.com/xenking/order-service/internal/domain/event"
	"github.com/xenking/order-service/internal/domain/order"
	"github.com/xenking/order-service/internal/domain/payment"
	"github.com/xenking/order-service/internal/domain/pricing"
	stripegw "github.com/xenking/order-service/internal/gateway/stripe"
	"github.com/xenking/order-service/internal/handler"
	"github.com/xenking/order-service/internal/storage/mongo"
	"github.com/xenking/order-service/internal/storage/postgres"
	redisstore "github.com/xenking/order-service/internal/storage/redis"
	"github.com/xenking/order-service/pkg/health"
	"github.com/xenking/order-service/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Pricing cache.
	catalog, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return errors.Wrap(err, "connect mongo")
	}
	defer func() {
		if err := catalog.Client().Disconnect(context.Background()); err != nil {
			lg.Warn("Mongo disconnect failed", zap.Error(err))
		}
	}()
	pricingCache := mongo.NewPricingCache(catalog)
	if err := pricingCache.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure pricing cache indexes")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	producer := kafka.NewProducer(cfg.Kafka.Brokers...)
	defer func() {
		if err := producer.Close(); err != nil {
			lg.Warn("Kafka producer close failed", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", health.PingCheck(pool))
	healthSvc.Register(health.Readiness, "mongo", func(ctx context.Context) error {
		return catalog.Client().Ping(ctx, readpref.Primary())
	})
	healthSvc.Register(health.Readiness, "redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	gateway := stripegw.New(stripe.NewClient(cfg.Stripe.SecretKey), stripegw.Config{
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	})
	api, err := newAPI(cfg, apiDeps{
		Orders:     postgres.NewOrderRepository(pool),
		Customers:  postgres.NewCustomerRepository(pool),
		Coupons:    redisstore.NewCouponCache(rdb, postgres.NewCouponRepository(pool), cfg.CouponCacheTTL),
		Pricing:    pricingCache,
		Gateway:    gateway,
		Broker:     producer,
		LimitStore: redisstore.NewLimitStore(rdb),
		Tracer:     m.TracerProvider(),
		Meter:      m.MeterProvider(),
	})
	if err != nil {
		return err
	}

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// apiDeps are the adapters the HTTP API is assembled from.
type apiDeps struct {
	Orders     order.Repository
	Customers  customer.Repository
	Coupons    coupon.Finder
	Pricing    pricing.Cache
	Gateway    payment.Gateway
	Broker     event.Broker
	LimitStore httpmiddleware.LimitStore
	Tracer     trace.TracerProvider
	Meter      metric.MeterProvider
}

// newAPI wires the domain services to the router.
func newAPI(cfg *Config, d apiDeps) (http.Handler, error) {
	taxPercent, err := cfg.Pricing.taxPercent()
	if err != nil {
		return nil, err
	}
	publisher := event.NewPublisher(d.Broker, cfg.Kafka.Topic)

	orderService, err := order.NewService(
		d.Orders,
		pricing.NewCalculator(d.Pricing),
		coupon.NewResolver(d.Coupons),
		d.Gateway,
		publisher,
		order.Config{
			TaxPercent:     taxPercent,
			DeliveryFee:    cfg.Pricing.DeliveryFee,
			Currency:       cfg.Pricing.Currency,
			TracerProvider: d.Tracer,
			MeterProvider:  d.Meter,
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	reader := order.NewReader(d.Orders, access.NewPolicy(d.Customers), d.Customers)
	webhooks, err := order.NewWebhookHandler(d.Orders, d.Gateway, publisher, d.Meter)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook handler")
	}

	h := handler.New(orderService, reader, webhooks, cfg.Stripe.WebhookSecret)
	router := h.Router(handler.RouterConfig{
		Auth:        handler.NewAuthenticator([]byte(cfg.Auth.JWTSecret)),
		Middlewares: []httpmiddleware.Middleware{httpmiddleware.LogRequests()},
		Authenticated: []httpmiddleware.Middleware{
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: handler.SubjectKey,
				Store:   d.LimitStore,
			}),
		},
	})
	return otelhttp.NewHandler(router, "orders-api",
		otelhttp.WithTracerProvider(d.Tracer),
		otelhttp.WithMeterProvider(d.Meter),
	), nil
}
