package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/tradeauth/internal/utils"
)

const (
	// IdentityKey is the key used to store the identity in Fiber context
	IdentityKey = "identity"

	accessTokenQueryParam = "access_token"
)

// Authenticator resolves an access token to the caller's identity
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*Identity, error)
}

// AuthMiddleware verifies the access token. Browsers cannot set headers on a
// websocket upgrade, so only those requests may carry the token in the query.
func AuthMiddleware(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, apiErr := bearerToken(c)
		if apiErr != nil {
			return utils.ErrorResponse(c, apiErr, nil)
		}

		identity, err := authn.Authenticate(c.UserContext(), token)
		if err != nil {
			return respondError(c, err)
		}

		c.Locals(IdentityKey, identity)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, *utils.APIError) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		if isWebSocketUpgrade(c) {
			if token := c.Query(accessTokenQueryParam); token != "" {
				slog.Debug("Access token taken from query on websocket upgrade", "path", c.Path(), "ip", c.IP())
				return token, nil
			}
		}
		return "", utils.NewAPIError("MISSING_AUTHORIZATION", "missing_authorization_header", fiber.StatusUnauthorized)
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", utils.NewAPIError("INVALID_AUTHORIZATION", "invalid_authorization_header", fiber.StatusUnauthorized)
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", utils.NewAPIError("MISSING_TOKEN", "missing_token", fiber.StatusUnauthorized)
	}
	return token, nil
}

func isWebSocketUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket") &&
		strings.Contains(strings.ToLower(c.Get(fiber.HeaderConnection)), "upgrade")
}

// GetIdentity extracts the identity from Fiber context
func GetIdentity(c *fiber.Ctx) *Identity {
	identity, ok := c.Locals(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
