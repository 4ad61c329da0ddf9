package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Anvoria/tradeauth/internal/cache"
	"github.com/Anvoria/tradeauth/internal/config"
	"github.com/Anvoria/tradeauth/internal/domain/auth"
	"github.com/Anvoria/tradeauth/internal/domain/device"
	"github.com/Anvoria/tradeauth/internal/domain/session"
	"github.com/Anvoria/tradeauth/internal/domain/token"
	"github.com/Anvoria/tradeauth/internal/domain/user"
	"github.com/Anvoria/tradeauth/internal/events"
	"github.com/Anvoria/tradeauth/internal/metrics"
	"github.com/Anvoria/tradeauth/internal/utils"
)

// Components are the connected backends the routes are built on
type Components struct {
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Keys     *token.KeyStore
	Events   events.Sink
	Registry *prometheus.Registry
	Logger   *slog.Logger
	// Clock overrides time.Now for the orchestrator and token codec
	Clock func() time.Time
}

// SetupRoutes builds the services over comp and registers every route on app.
// It mounts the auth endpoints under /v1/auth, the JWKS at
// /.well-known/jwks.json and Prometheus metrics at /metrics.
func SetupRoutes(app *fiber.App, cfg *config.Config, comp Components) (*auth.Service, error) {
	if comp.Logger == nil {
		comp.Logger = slog.Default()
	}
	if comp.Events == nil {
		comp.Events = events.LogSink{Logger: comp.Logger}
	}
	if comp.Registry == nil {
		comp.Registry = prometheus.NewRegistry()
	}

	var codecOpts []token.Option
	if comp.Clock != nil {
		codecOpts = append(codecOpts, token.WithClock(comp.Clock))
	}
	codec, err := token.NewCodec(comp.Keys, cfg.Auth.Issuer, codecOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	collector, err := metrics.New(comp.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	prefix := cfg.Redis.KeyPrefix
	lockoutPolicy := cache.LockoutPolicy{
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window(),
		Duration:  cfg.Lockout.Duration(),
	}

	authService, err := auth.NewService(auth.Deps{
		Codec:       codec,
		Sessions:    session.NewRepository(comp.DB),
		Revocations: cache.NewRevocationRegistry(comp.Redis, prefix),
		Lockout:     cache.NewLockoutGuard(comp.Redis, prefix, lockoutPolicy),
		Devices:     device.NewEngine(cfg.Auth.FingerprintSecret, cfg.Auth.FingerprintIncludeIP),
		Events:      comp.Events,
		Metrics:     collector,
		Logger:      comp.Logger,
		Clock:       comp.Clock,
	}, auth.Policy{
		AccessTTL:  cfg.Auth.AccessTTL(),
		RefreshTTL: cfg.Auth.RefreshTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	userService := user.NewService(user.NewRepository(comp.DB))

	api := app.Group("/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})
	api.Get("/ready", readinessHandler(comp))

	auth.NewHandler(authService, userService).RegisterRoutes(api.Group("/auth"))

	app.Get("/.well-known/jwks.json", auth.JWKSHandler(comp.Keys))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(comp.Registry, promhttp.HandlerOpts{})))

	activeKey, err := comp.Keys.GetActiveKey()
	if err != nil {
		return nil, err
	}
	keyID, _ := activeKey.KeyID()
	comp.Logger.Info("Routes registered", "issuer", cfg.Auth.Issuer, "key_id", keyID)

	return authService, nil
}

// readinessHandler reports 503 until the database and the shared store answer
func readinessHandler(comp Components) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		var errs []error
		if err := comp.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
		if sqlDB, err := comp.DB.DB(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		} else if err := sqlDB.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}

		if err := errors.Join(errs...); err != nil {
			slog.WarnContext(ctx, "Readiness check failed", "error", err)
			return utils.ErrorResponse(c, utils.ErrUnavailable, nil)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ready",
		})
	}
}
