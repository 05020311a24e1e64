package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"checkoutpay/internal/catalog"
	"checkoutpay/internal/common/database"
	"checkoutpay/internal/common/events"
	"checkoutpay/internal/common/middleware"
	"checkoutpay/internal/common/nats"
	"checkoutpay/internal/fulfillment"
	"checkoutpay/internal/gateway"
	"checkoutpay/internal/payment"
	paymentapi "checkoutpay/internal/payment/api"
	paymentstore "checkoutpay/internal/payment/store"
	"checkoutpay/internal/pricing"
	"checkoutpay/internal/webhook"
)

// Config holds service configuration
type Config struct {
	Port           int           `envconfig:"PORT" default:"8080"`
	Environment    string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"json"`
	CORSOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	Database database.Config
	NATS     nats.Config
	Redis    RedisConfig
	Gateway  gateway.Config
	Payment  payment.Config
	Webhook  webhook.Config
}

// RedisConfig holds the optional Redis connection used for dedupe and idempotency.
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Events go to JetStream when enabled, otherwise to the log
	var publisher payment.EventPublisher = events.NewLogPublisher(logger)
	var natsClient *nats.Client
	if cfg.NATS.Enabled {
		natsClient, err = nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		if _, err := natsClient.EnsureEventStream(ctx); err != nil {
			logger.Error("failed to ensure event stream", "error", err)
			os.Exit(1)
		}
		publisher = nats.NewPublisher(natsClient, logger)
	}

	var (
		processed   webhook.ProcessedStore      = webhook.NewMemoryStore()
		idempotency middleware.IdempotencyStore = middleware.NewMemoryIdempotencyStore()
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		processed = webhook.NewRedisStore(redisClient)
		idempotency = middleware.NewRedisIdempotencyStore(redisClient)
	}

	// Stores
	catalogStore := catalog.NewPostgresStore(db)
	transactions := paymentstore.NewPostgresStore(db)
	deliveries := fulfillment.NewPostgresStore(db)

	// Services
	gw := gateway.NewClient(cfg.Gateway, &http.Client{Timeout: cfg.Gateway.RequestTimeout}, logger)
	calculator := pricing.NewCalculator(catalogStore, catalogStore, logger)
	preparer := payment.NewPreparer(gw, cfg.Payment.ReferencePrefix, logger)
	poller := payment.NewPoller(gw, payment.DefaultSleeper{}, cfg.Payment.PollAttemptTimeout, logger)
	orchestrator := fulfillment.NewOrchestrator(catalogStore, deliveries, publisher, logger)

	paymentService := payment.NewService(
		cfg.Payment,
		transactions,
		gw,
		calculator,
		preparer,
		poller,
		orchestrator,
		publisher,
		logger,
	)
	defer paymentService.Close()

	webhookProcessor := webhook.NewProcessor(cfg.Webhook, paymentService, processed, logger)

	// Handlers
	paymentHandler := paymentapi.NewHandler(paymentService, cfg.Payment.PollOptions(), logger)
	webhookHandler := webhook.NewHandler(webhookProcessor, cfg.Webhook.MaxBodyBytes, logger)

	r := chi.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if natsClient != nil {
			if err := natsClient.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", paymentHandler.Routes(middleware.Idempotency(idempotency, cfg.IdempotencyTTL, logger)))
		r.Method(http.MethodPost, "/webhooks/gateway", webhookHandler)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting checkout service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"nats", cfg.NATS.Enabled,
			"redis", cfg.Redis.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
