package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Anvoria/tradeauth/internal/utils"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	return utils.SetupTestRedis(t)
}
