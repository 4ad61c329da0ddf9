package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Anvoria/tradeauth/internal/domain/session"
)

// Identity is the authenticated caller resolved from an access token
type Identity struct {
	UserID    string
	TenantID  string
	SessionID uuid.UUID
	TokenID   string
	ExpiresAt time.Time
}

// Principal is what a credential check resolves to
type Principal struct {
	UserID   string
	TenantID string
	Verified bool
}

// CredentialVerifier checks an identifier and secret against the user directory.
// It returns ErrInvalidCredentials when they do not match.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret, tenantID string) (*Principal, error)
}

// LoginRequest describes a login whose credentials were already accepted
type LoginRequest struct {
	UserID    string
	TenantID  string
	UserAgent string
	IP        string
	// Identifier is the lockout key, usually the login name
	Identifier string
	// Verified is set once a second factor has passed
	Verified bool
}

// TokenPair is the access and refresh token handed to the client
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

type LoginResult struct {
	Tokens     TokenPair
	Session    *session.Session
	Suspicious bool
	Reason     string
	TrustScore float64
}

type RefreshResult struct {
	Tokens  TokenPair
	Session *session.Session
}

// SessionView is the client facing shape of a session
type SessionView struct {
	ID           uuid.UUID `json:"id"`
	DeviceLabel  string    `json:"device_label"`
	DeviceClass  string    `json:"device_class"`
	OSName       string    `json:"os_name"`
	BrowserName  string    `json:"browser_name"`
	IPAddress    string    `json:"ip_address"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	IsSuspicious bool      `json:"is_suspicious"`
	TrustScore   float64   `json:"trust_score"`
	Current      bool      `json:"current"`
}

// NewSessionView hides token ids and fingerprints from the client
func NewSessionView(s session.Session, current uuid.UUID) SessionView {
	return SessionView{
		ID:           s.ID,
		DeviceLabel:  s.DeviceLabel,
		DeviceClass:  s.DeviceClass,
		OSName:       s.OSName,
		BrowserName:  s.BrowserName,
		IPAddress:    s.IPAddress,
		LastActiveAt: s.LastActiveAt,
		CreatedAt:    s.CreatedAt,
		IsSuspicious: s.IsSuspicious,
		TrustScore:   s.TrustScore,
		Current:      s.ID == current,
	}
}
