package auth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Anvoria/tradeauth/internal/cache"
	"github.com/Anvoria/tradeauth/internal/domain/session"
	"github.com/Anvoria/tradeauth/internal/utils"
)

const refreshCookieName = "refresh_token"

// SessionService is the part of Service the HTTP layer calls
type SessionService interface {
	Authenticator
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken, userAgent, ip string) (*RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutDevice(ctx context.Context, sessionID uuid.UUID, userID string) error
	LogoutAll(ctx context.Context, userID string, except *uuid.UUID) (int, error)
	ListSessions(ctx context.Context, userID string) ([]session.Session, error)
	CheckLockout(ctx context.Context, identifier string) error
	RecordLoginFailure(ctx context.Context, identifier, ip string) (cache.LockoutResult, error)
}

type Handler struct {
	service     SessionService
	credentials CredentialVerifier
	cookiePath  string
}

func NewHandler(s SessionService, credentials CredentialVerifier) *Handler {
	return &Handler{service: s, credentials: credentials, cookiePath: "/"}
}

// RegisterRoutes mounts the auth endpoints on r
func (h *Handler) RegisterRoutes(r fiber.Router) {
	requireAuth := AuthMiddleware(h.service)

	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
	r.Get("/sessions", requireAuth, h.ListSessions)
	r.Delete("/sessions/:id", requireAuth, h.LogoutDevice)
	r.Post("/logout-all", requireAuth, h.LogoutAll)
}

type loginBody struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	TenantID   string `json:"tenant_id"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutAllBody struct {
	ExceptCurrent bool `json:"except_current"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginBody
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest, nil)
	}
	if req.Identifier == "" || req.Secret == "" || req.TenantID == "" {
		return utils.ErrorResponse(c, utils.NewAPIError("MISSING_FIELDS", "identifier, secret and tenant_id are required", fiber.StatusBadRequest), nil)
	}

	ctx := c.UserContext()
	key := LockoutKey(req.TenantID, req.Identifier)

	if err := h.service.CheckLockout(ctx, key); err != nil {
		return respondError(c, err)
	}

	principal, err := h.credentials.Verify(ctx, req.Identifier, req.Secret, req.TenantID)
	if errors.Is(err, ErrInvalidCredentials) {
		res, err := h.service.RecordLoginFailure(ctx, key, c.IP())
		if err != nil {
			return respondError(c, err)
		}
		return utils.ErrorResponse(c, utils.ErrInvalidCredentials, fiber.Map{"remaining_attempts": res.RemainingAttempts})
	}
	if err != nil {
		return respondError(c, err)
	}

	res, err := h.service.Login(ctx, LoginRequest{
		UserID:     principal.UserID,
		TenantID:   principal.TenantID,
		UserAgent:  c.Get(fiber.HeaderUserAgent),
		IP:         c.IP(),
		Identifier: key,
		Verified:   principal.Verified,
	})
	if err != nil {
		return respondError(c, err)
	}

	h.setRefreshCookie(c, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)

	return utils.SuccessResponse(c, fiber.Map{
		"tokens":            res.Tokens,
		"session_id":        res.Session.ID,
		"suspicious":        res.Suspicious,
		"suspicious_reason": res.Reason,
		"trust_score":       res.TrustScore,
	}, "Login successful")
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	refreshToken := h.refreshToken(c)
	if refreshToken == "" {
		return utils.ErrorResponse(c, utils.ErrReauthenticate, nil)
	}

	res, err := h.service.Refresh(c.UserContext(), refreshToken, c.Get(fiber.HeaderUserAgent), c.IP())
	if err != nil {
		if IsReauthenticate(err) {
			h.clearRefreshCookie(c)
		}
		return respondError(c, err)
	}

	h.setRefreshCookie(c, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)

	return utils.SuccessResponse(c, fiber.Map{
		"tokens":     res.Tokens,
		"session_id": res.Session.ID,
	}, "Token refreshed")
}

// Logout succeeds for unknown or dead tokens so clients can always clear state
func (h *Handler) Logout(c *fiber.Ctx) error {
	refreshToken := h.refreshToken(c)
	h.clearRefreshCookie(c)

	if refreshToken != "" {
		if err := h.service.Logout(c.UserContext(), refreshToken); err != nil {
			return respondError(c, err)
		}
	}
	return utils.SuccessResponse(c, nil, "Logged out")
}

func (h *Handler) ListSessions(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized, nil)
	}

	sessions, err := h.service.ListSessions(c.UserContext(), identity.UserID)
	if err != nil {
		return respondError(c, err)
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, NewSessionView(s, identity.SessionID))
	}
	return utils.SuccessResponse(c, fiber.Map{"sessions": views}, "Active sessions")
}

func (h *Handler) LogoutDevice(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized, nil)
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, utils.NewAPIError("INVALID_SESSION_ID", "invalid session id", fiber.StatusBadRequest), nil)
	}

	err = h.service.LogoutDevice(c.UserContext(), id, identity.UserID)
	if errors.Is(err, ErrSessionNotFound) {
		return utils.ErrorResponse(c, utils.ErrNotFound, nil)
	}
	if err != nil {
		return respondError(c, err)
	}
	return utils.SuccessResponse(c, nil, "Session ended")
}

func (h *Handler) LogoutAll(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized, nil)
	}

	var req logoutAllBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, utils.ErrBadRequest, nil)
		}
	}

	var except *uuid.UUID
	if req.ExceptCurrent && identity.SessionID != uuid.Nil {
		current := identity.SessionID
		except = &current
	}

	ended, err := h.service.LogoutAll(c.UserContext(), identity.UserID, except)
	if err != nil {
		return respondError(c, err)
	}
	return utils.SuccessResponse(c, fiber.Map{"ended": ended}, "Sessions ended")
}

func (h *Handler) refreshToken(c *fiber.Ctx) string {
	var req refreshBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err == nil && req.RefreshToken != "" {
			return req.RefreshToken
		}
	}
	return c.Cookies(refreshCookieName)
}

func (h *Handler) setRefreshCookie(c *fiber.Ctx, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		HTTPOnly: true,
		Secure:   true,
		Path:     h.cookiePath,
		SameSite: fiber.CookieSameSiteStrictMode,
		Expires:  expires,
	})
}

func (h *Handler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		HTTPOnly: true,
		Secure:   true,
		Path:     h.cookiePath,
		SameSite: fiber.CookieSameSiteStrictMode,
		Expires:  time.Unix(0, 0),
	})
}

// LockoutKey scopes the lockout counter to one login name within one tenant
func LockoutKey(tenantID, identifier string) string {
	return tenantID + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

// respondError maps orchestrator errors to HTTP. Every re-authentication
// cause renders the same body.
func respondError(c *fiber.Ctx, err error) error {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		secs := int(math.Ceil(locked.RetryAfter.Seconds()))
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		return utils.ErrorResponse(c, utils.ErrTooManyAttempts, fiber.Map{"retry_after": secs})
	case IsReauthenticate(err):
		return utils.ErrorResponse(c, utils.ErrReauthenticate, nil)
	case errors.Is(err, ErrForbidden):
		return utils.ErrorResponse(c, utils.ErrForbidden, nil)
	case errors.Is(err, ErrInfrastructureUnavailable):
		return utils.ErrorResponse(c, utils.ErrUnavailable, nil)
	default:
		slog.ErrorContext(c.UserContext(), "Unhandled auth error", "path", c.Path(), "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer, nil)
	}
}
