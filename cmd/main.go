/**
 * @description
 * This is the main entry point for the grant-pathway backend.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, repository, external clients (Stripe,
 * Mailgun, RabbitMQ, Redis), the business service, the background outbox
 * dispatcher and cron scheduler, and the HTTP router. Finally, it starts the
 * HTTP server and handles graceful shutdown.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Database connection pooling.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Rate limiter backend.
 */
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jaypozo/grant-pathway/internal/api"
	"github.com/jaypozo/grant-pathway/internal/app"
	"github.com/jaypozo/grant-pathway/internal/config"
	"github.com/jaypozo/grant-pathway/internal/store"
	"github.com/jaypozo/grant-pathway/pkg/mailgunclient"
	"github.com/jaypozo/grant-pathway/pkg/rabbitmq"
	"github.com/jaypozo/grant-pathway/pkg/stripeclient"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development; in production the environment is
	// already populated.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, reading configuration from environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Use the simple protocol so the pool works behind PgBouncer transaction
	// pooling without prepared statement cache errors.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Event publisher; fall back to a logging no-op when the broker is
	// unreachable so record lifecycle handling keeps working.
	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("could not connect to RabbitMQ, events will only be logged", "error", err)
			publisher = &rabbitmq.NoopPublisher{}
		} else {
			publisher = producer
		}
	} else {
		publisher = &rabbitmq.NoopPublisher{}
	}
	defer publisher.Close()

	// Redis-backed rate limiter for the re-issuance endpoint; optional.
	var limiter *app.RedisRateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, rate limiting disabled", "error", err)
		} else {
			limiter = app.NewRedisRateLimiter(redis.NewClient(opts), "grantpathway:rate_limit")
		}
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	checkout := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)
	mailer := mailgunclient.NewClient(cfg.MailgunAPIBaseURL, cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunFrom)
	service := app.NewService(repository, checkout, publisher, cfg)
	handler := api.NewHandler(service, limiter, cfg)
	webhook := api.NewStripeWebhookHandler(service, cfg.StripeWebhookSecret)
	router := api.NewRouter(handler, webhook, cfg.InternalAPIKey)

	// Background workers: email outbox dispatcher and maintenance jobs.
	dispatcher := app.NewOutboxDispatcher(repository, mailer)
	go dispatcher.Run(ctx)

	scheduler := app.NewScheduler(app.NewJobs(repository, logger), logger, cfg)
	scheduler.Start()
	defer scheduler.Stop()

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
