package auth

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/tradeauth/internal/domain/token"
	"github.com/Anvoria/tradeauth/internal/utils"
)

// JWKSHandler publishes the public verification keys, retired ones included,
// so other services can verify access tokens offline.
func JWKSHandler(keys *token.KeyStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body, err := json.Marshal(keys.JWKS())
		if err != nil {
			return utils.ErrorResponse(c, utils.ErrInternalServer, nil)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		c.Set(fiber.HeaderCacheControl, "public, max-age=300")
		return c.Send(body)
	}
}
