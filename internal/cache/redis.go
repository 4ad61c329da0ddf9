package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anvoria/tradeauth/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the shared store cannot be reached.
// Security checks that hit it must fail closed.
var ErrUnavailable = errors.New("shared store unavailable")

// NewRedisClient creates a client from cfg and verifies connectivity with a
// Ping bounded by a 5-second timeout. The caller owns the client.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis connected successfully", "address", cfg.Address())
	return client, nil
}

// unavailable wraps a Redis failure so callers can match ErrUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
