package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/order"
	"github.com/xenking/shop-orders/internal/handler"
	"github.com/xenking/shop-orders/internal/notify"
	"github.com/xenking/shop-orders/internal/storage/postgres"
	"github.com/xenking/shop-orders/internal/storage/redis"
	"github.com/xenking/shop-orders/pkg/health"
	"github.com/xenking/shop-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool.Ping))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	opts := []order.Option{order.WithMeterProvider(m.MeterProvider())}

	// Idempotency keys, optional.
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}), health.WithFailureThreshold(2))
		opts = append(opts, order.WithIdempotency(redis.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)))
		lg.Info("Idempotency keys enabled", zap.String("redis", cfg.Redis.Addr))
	}

	// Guest order notifications. The delivery loop outlives the server so
	// that requests finishing during shutdown are still published.
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotify()
	var kafkaNotifier *notify.Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier = notify.NewKafka(notify.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Buffer:  cfg.Kafka.Buffer,
		}, lg.Named("notify"))
		kafkaNotifier.Start(notifyCtx)
		opts = append(opts, order.WithNotifier(kafkaNotifier))
		lg.Info("Guest order events go to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	} else {
		opts = append(opts, order.WithNotifier(notify.Log{}))
	}

	// Domain service.
	orderService, err := order.NewService(
		postgres.NewStore(pool, cfg.Database.LockTimeout),
		postgres.NewOrderRepository(pool),
		opts...,
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(orderService, handler.NewGateway(cfg.GatewaySecret))
	if cfg.GatewaySecret == "" {
		lg.Warn("No gateway secret configured, every caller is treated as a guest")
	}

	router := newRouter(h, healthSvc, cfg.APIPrefix)

	trusted, err := httpmiddleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return errors.Wrap(err, "parse trusted proxies")
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Base(zctx.From(ctx)),
			httpmiddleware.RealIP(trusted),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type",
					handler.HeaderIdempotencyKey,
					handler.HeaderUserID,
					handler.HeaderUserRole,
					handler.HeaderUserStaff,
					handler.HeaderUserName,
					handler.HeaderGatewayKey,
				},
				ExposeHeaders: []string{
					handler.HeaderReplayed,
					httpmiddleware.HeaderRequestID,
					"Retry-After",
					"X-RateLimit-Limit",
					"X-RateLimit-Remaining",
				},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Burst:  cfg.RateLimit.Burst,
			}),
			httpmiddleware.Instrument("orders-api", m),
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

		stopNotify()
		if kafkaNotifier != nil {
			kafkaNotifier.Wait()
			if n := kafkaNotifier.Dropped(); n > 0 {
				lg.Warn("Guest order events dropped", zap.Int64("count", n))
			}
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRouter mounts the health endpoints and the order routes on one chi
// router. Route-aware middlewares run inside the router so the matched
// pattern is known.
func newRouter(h *handler.Handler, healthSvc *health.Health, prefix string) chi.Router {
	router := chi.NewRouter()
	router.Use(
		httpmiddleware.LogRequests(handler.RoutePattern),
		httpmiddleware.Labeler(handler.RoutePattern),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	if prefix != "" {
		router.Route(prefix, h.Routes)
	} else {
		h.Routes(router)
	}
	return router
}
