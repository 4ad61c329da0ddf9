package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Anvoria/tradeauth/internal/domain/auth"
)

var (
	// ErrIdentifierExists is returned when the identifier is taken within the tenant
	ErrIdentifierExists = errors.New("identifier already exists")
	// ErrNotFound is returned when no user matches
	ErrNotFound = errors.New("user not found")
	// ErrMissingField is returned when a required registration field is empty
	ErrMissingField = errors.New("tenant, identifier and secret are required")
)

// RegisterRequest represents the input for user registration
type RegisterRequest struct {
	TenantID   string
	Identifier string
	Secret     string
	Verified   bool
}

// Service interface for user operations. It is also the credential check
// behind the login endpoint.
type Service interface {
	auth.CredentialVerifier
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Disable(ctx context.Context, tenantID, identifier string) error
}

type service struct {
	repo Repository

	// dummyHash is verified against when the user is unknown so both paths cost the same
	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new user service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// normalizeIdentifier makes login names case insensitive
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	identifier := normalizeIdentifier(req.Identifier)
	if req.TenantID == "" || identifier == "" || req.Secret == "" {
		return nil, ErrMissingField
	}

	hash, err := HashSecret(req.Secret)
	if err != nil {
		return nil, err
	}

	u := &User{
		TenantID:   req.TenantID,
		Identifier: identifier,
		SecretHash: hash,
		IsActive:   true,
		Verified:   req.Verified,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) Disable(ctx context.Context, tenantID, identifier string) error {
	return s.repo.SetActive(ctx, tenantID, normalizeIdentifier(identifier), false)
}

// Verify checks the secret and returns the principal to open a session for.
// Unknown, disabled and mismatched users all return auth.ErrInvalidCredentials.
func (s *service) Verify(ctx context.Context, identifier, secret, tenantID string) (*auth.Principal, error) {
	u, err := s.repo.FindByIdentifier(ctx, tenantID, normalizeIdentifier(identifier))
	if errors.Is(err, ErrNotFound) {
		VerifySecret(secret, s.dummy())
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: user directory: %w", auth.ErrInfrastructureUnavailable, err)
	}

	if !VerifySecret(secret, u.SecretHash) || !u.IsActive {
		return nil, auth.ErrInvalidCredentials
	}

	return &auth.Principal{
		UserID:   u.ID.String(),
		TenantID: u.TenantID,
		Verified: u.Verified,
	}, nil
}

func (s *service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashSecret("dummy-secret-for-timing")
	})
	return s.dummyHash
}
