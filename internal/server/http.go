package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Anvoria/tradeauth/internal/cache"
	"github.com/Anvoria/tradeauth/internal/config"
	"github.com/Anvoria/tradeauth/internal/database"
	"github.com/Anvoria/tradeauth/internal/domain/token"
	"github.com/Anvoria/tradeauth/internal/events"
	"github.com/Anvoria/tradeauth/internal/migrations"
	"github.com/Anvoria/tradeauth/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Start connects the backends, runs migrations, registers routes and serves
// until SIGINT or SIGTERM.
func Start(cfg *config.Config, env *config.Environment) error {
	logger := initLogger(cfg.Logging, os.Stdout)
	slog.Info("Environment loaded", "environment", env.Environment.String())

	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	defer database.Close(db)

	if err := migrations.RunMigrations(db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return err
	}
	slog.Info("Migrations completed successfully")

	rdb, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		return err
	}
	defer rdb.Close()

	keys, err := loadKeys(cfg, env)
	if err != nil {
		slog.Error("Failed to load signing keys", "error", err)
		return err
	}

	sink, closeSink, err := newEventSink(cfg, logger)
	if err != nil {
		slog.Error("Failed to set up event sink", "error", err)
		return err
	}
	defer closeSink()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := NewApp(cfg)
	if _, err := SetupRoutes(app, cfg, Components{
		DB:       db,
		Redis:    rdb,
		Keys:     keys,
		Events:   sink,
		Registry: registry,
		Logger:   logger,
	}); err != nil {
		slog.Error("Failed to setup routes", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	addr := cfg.Server.Address()
	go func() {
		slog.Info("Server starting",
			"address", addr,
			"app", cfg.App.Name,
			"version", cfg.App.Version,
		)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Failed to start server", "error", err)
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	}
}

// NewApp creates the Fiber app with security headers, per-IP rate limiting
// and CORS configured from cfg.
func NewApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var apiErr *utils.APIError
			if errors.As(err, &apiErr) {
				return utils.ErrorResponse(c, apiErr, nil)
			}

			var e *fiber.Error
			if errors.As(err, &e) {
				return utils.ErrorResponse(c, utils.NewAPIError("HTTP_ERROR", e.Message, e.Code), nil)
			}

			slog.Error("Unhandled error", "path", c.Path(), "error", err)
			return utils.ErrorResponse(c, utils.ErrInternalServer, nil)
		},
	})

	app.Use(helmet.New())

	if cfg.Server.RateLimit.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Server.RateLimit.Max,
			Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return utils.ErrorResponse(c, utils.NewAPIError(
					"TOO_MANY_REQUESTS",
					"Too many requests, please try again later.",
					fiber.StatusTooManyRequests,
				), nil)
			},
		}))
	}

	if len(cfg.Server.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
			AllowMethods:     "GET,POST,DELETE,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
			AllowCredentials: true,
			ExposeHeaders:    "Content-Length,Retry-After",
			MaxAge:           3600,
		}))
	}

	return app
}

// loadKeys reads the key directory when one is configured. Without one the
// PRIVATE_KEY variable is used, and development falls back to a throwaway key.
func loadKeys(cfg *config.Config, env *config.Environment) (*token.KeyStore, error) {
	if cfg.Auth.KeysPath != "" {
		keys, err := token.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID)
		if err != nil {
			return nil, fmt.Errorf("failed to load keys: %w", err)
		}
		return keys, nil
	}

	priv, err := config.LoadRSAPrivateKey(env.PrivateKey, env.Environment)
	if err != nil {
		return nil, err
	}
	kid := cfg.Auth.ActiveKID
	if kid == "" {
		kid = "default"
	}
	if env.PrivateKey == "" {
		slog.Warn("Using an ephemeral signing key, tokens will not survive a restart")
	}
	return token.NewKeyStore(kid, priv)
}

// newEventSink always logs events and also publishes them to AMQP when a
// broker URL is configured.
func newEventSink(cfg *config.Config, logger *slog.Logger) (events.Sink, func(), error) {
	logSink := events.LogSink{Logger: logger}
	if cfg.Events.AMQPURL == "" {
		return logSink, func() {}, nil
	}

	amqpSink, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := amqpSink.Close(); err != nil {
			slog.Warn("Failed to close AMQP sink", "error", err)
		}
	}
	return events.Multi{logSink, amqpSink}, closeFn, nil
}

// initLogger installs the default logger at the configured level and format
func initLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch cfg.Level {
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
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
