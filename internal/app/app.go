package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/catalog"
	"github.com/pavelchamgl/reli.one-sub000/internal/config"
	"github.com/pavelchamgl/reli.one-sub000/internal/consent"
	"github.com/pavelchamgl/reli.one-sub000/internal/event"
	handler "github.com/pavelchamgl/reli.one-sub000/internal/handler/http"
	"github.com/pavelchamgl/reli.one-sub000/internal/mirror"
	"github.com/pavelchamgl/reli.one-sub000/internal/payment"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	"github.com/pavelchamgl/reli.one-sub000/internal/repository/postgres"
	"github.com/pavelchamgl/reli.one-sub000/internal/selection"
	"github.com/pavelchamgl/reli.one-sub000/internal/session"
	redisstore "github.com/pavelchamgl/reli.one-sub000/internal/storage/redis"
	"github.com/pavelchamgl/reli.one-sub000/migrations"
	"github.com/pavelchamgl/reli.one-sub000/pkg/database"
	"github.com/pavelchamgl/reli.one-sub000/pkg/health"
	"github.com/pavelchamgl/reli.one-sub000/pkg/httpclient"
	pkgkafka "github.com/pavelchamgl/reli.one-sub000/pkg/kafka"
	"github.com/pavelchamgl/reli.one-sub000/pkg/middleware"
	"github.com/pavelchamgl/reli.one-sub000/pkg/tracing"
)

// Redis key prefixes of the idempotency stores.
const (
	mirrorDeliveredPrefix = "reli:mirror:delivered:"
	eventSeenPrefix       = "reli:events:seen:"
)

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	mirror         *mirror.Queue
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Redis holds the per-client store.
	redisCfg := database.DefaultRedisConfig(cfg.RedisAddr)
	redisCfg.Password = cfg.RedisPass
	redisCfg.DB = cfg.RedisDB
	rdb, err := database.NewRedisClient(ctx, redisCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	// PostgreSQL holds payment sessions.
	pgCfg := database.DefaultPostgresConfig(cfg.PostgresDSN)
	pgCfg.MaxConns = cfg.DBMaxConns
	pgCfg.MinConns = cfg.DBMinConns
	pgCfg.MaxConnLifetime = time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute
	pgCfg.MaxConnIdleTime = time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute
	pool, err := database.NewPostgresPool(ctx, pgCfg, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, handler.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Kafka producers.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Remote Reli API behind a circuit breaker.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         time.Duration(cfg.APITimeoutSecs) * time.Second,
		MaxRetries:      cfg.APIMaxRetries,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 100,
		UserAgent:       "reli-storefront",
	})
	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "reli-api",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger).
		WithFallback(remote.CircuitOpenFallback)
	api := remote.NewClient(cbClient, cfg.APIBaseURL, logger)

	// Build the dependency graph.
	kv := redisstore.NewStore(rdb, cfg.ClientTTL())
	events := event.NewProducer(producer, logger)
	store := basket.NewStore(kv, logger)
	gate := session.NewGate(kv, kv, api, store, events, logger)

	idemTTL := time.Duration(cfg.IdempotencyTTLHours) * time.Hour
	queue := mirror.NewQueue(mirror.Config{
		Workers:        cfg.MirrorWorkers,
		QueueSize:      cfg.MirrorQueueSize,
		MaxAttempts:    cfg.MirrorMaxAttempts,
		InitialBackoff: time.Duration(cfg.MirrorBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MirrorMaxBackoffSecs) * time.Second,
	},
		mirror.NewRemoteSender(api, gate),
		pkgkafka.NewRedisIdempotencyStore(rdb, mirrorDeliveredPrefix, idemTTL),
		dlq,
		mirror.NewMetrics(prometheus.DefaultRegisterer),
		logger,
	)

	store.Subscribe(queue.Subscriber())
	store.Subscribe(events.BasketSubscriber())

	nav := selection.New(store, kv, selection.Config{
		AllowedRoutes: cfg.SelectionAllowedRoutes,
		Languages:     cfg.Languages,
		ResetEnabled:  cfg.SelectionResetEnabled,
	}, logger)

	repo := postgres.NewPaymentSessionRepository(pool,
		database.NewQueryTracer(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger))
	flow := payment.NewFlow(repo, store, api, gate, events, logger)

	consumer := event.NewUserDeletedConsumer(
		cfg.KafkaBrokers,
		event.NewConsumerHandler(gate, logger),
		pkgkafka.NewRedisIdempotencyStore(rdb, eventSeenPrefix, idemTTL),
		dlq,
		logger,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("redis", kv.Ping)
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("reli-api", func(context.Context) error {
		if cbClient.State() == gobreaker.StateOpen {
			return httpclient.ErrCircuitOpen
		}
		return nil
	})

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(handler.Handlers{
		Basket:   handler.NewBasketHandler(store, logger),
		Checkout: handler.NewCheckoutHandler(nav, flow, logger),
		Account:  handler.NewAccountHandler(gate, consent.New(kv, cfg.CookieVersion, logger), logger),
		Catalog:  handler.NewCatalogHandler(catalog.New(api, logger), logger),
	}, healthHandler, logger, handler.RouterConfig{
		CORS:             corsCfg,
		PprofCIDRs:       cfg.PprofAllowedCIDRs,
		CatalogCacheSecs: cfg.CatalogCacheSecs,
		RateLimitRPS:     cfg.RateLimitRPS,
		RateLimitBurst:   cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          rdb,
		producer:       producer,
		dlq:            dlq,
		consumer:       consumer,
		mirror:         queue,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, the mirror workers and the event consumer, and
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	workers.Add(2)
	go func() {
		defer workers.Done()
		_ = a.mirror.Run(workersCtx)
	}()
	go func() {
		defer workers.Done()
		if err := a.consumer.Start(workersCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("user.deleted consumer stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown(stopWorkers, &workers))
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests, which may still enqueue jobs)
// 2. Mirror workers and the event consumer
// 3. Tracer (flush pending spans)
// 4. Kafka producers
// 5. PostgreSQL pool and Redis client
func (a *App) Shutdown(stopWorkers context.CancelFunc, workers *sync.WaitGroup) error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Stop background workers.
	stopWorkers()
	workers.Wait()
	if err := a.consumer.Close(); err != nil {
		a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producers.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close stores.
	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
