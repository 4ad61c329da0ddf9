package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const (
	claimTenant = "tid"
	claimType   = "typ"
)

// Codec mints and verifies RS256 tokens. It holds no state beyond the key
// material and is safe for concurrent use.
type Codec struct {
	keys   *KeyStore
	issuer string
	now    func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithClock replaces the wall clock used for iat/exp and expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec signing with the active key of keys
func NewCodec(keys *KeyStore, issuer string, opts ...Option) (*Codec, error) {
	if _, err := keys.GetActiveKey(); err != nil {
		return nil, fmt.Errorf("active key %s: %w", keys.ActiveKid, err)
	}

	c := &Codec{keys: keys, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Keys returns the key store backing the codec
func (c *Codec) Keys() *KeyStore {
	return c.keys
}

// Mint signs a new token for subject with a fresh 128-bit id
func (c *Codec) Mint(subject, tenant string, typ Type, ttl time.Duration) (string, Claims, error) {
	if _, err := ParseType(string(typ)); err != nil {
		return "", Claims{}, err
	}

	id, err := newTokenID()
	if err != nil {
		return "", Claims{}, err
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	claims := Claims{
		Subject:   subject,
		TenantID:  tenant,
		Type:      typ,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl.Truncate(time.Second)),
		ID:        id,
		Issuer:    c.issuer,
	}

	tok, err := jwt.NewBuilder().
		Subject(claims.Subject).
		Issuer(claims.Issuer).
		IssuedAt(claims.IssuedAt).
		Expiration(claims.ExpiresAt).
		JwtID(claims.ID).
		Claim(claimTenant, claims.TenantID).
		Claim(claimType, string(claims.Type)).
		Build()
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to build token: %w", err)
	}

	key, err := c.keys.GetActiveKey()
	if err != nil {
		return "", Claims{}, err
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), key))
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), claims, nil
}

// ParseUnverified decodes the claims without checking the signature or expiry.
// Only use it for low-risk metadata reads.
func (c *Codec) ParseUnverified(tokenString string) (Claims, error) {
	tok, err := jwt.ParseInsecure([]byte(tokenString))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return claimsFrom(tok)
}

// Verify checks signature, expiry and token kind, in that order
func (c *Codec) Verify(tokenString string, expected Type) (Claims, error) {
	claims, err := c.verifySignature(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Expired(c.now()) {
		return Claims{}, ErrTokenExpired
	}
	if claims.Type != expected {
		return Claims{}, ErrTokenTypeMismatch
	}
	return claims, nil
}

// VerifySignature is Verify without the expiry check. Logout uses it so a
// stale but genuine token can still end its session.
func (c *Codec) VerifySignature(tokenString string, expected Type) (Claims, error) {
	claims, err := c.verifySignature(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != expected {
		return Claims{}, ErrTokenTypeMismatch
	}
	return claims, nil
}

func (c *Codec) verifySignature(tokenString string) (Claims, error) {
	tok, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(c.keys.JWKS(), jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	claims, err := claimsFrom(tok)
	if err != nil {
		return Claims{}, err
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrTokenMalformed)
	}
	return claims, nil
}

func claimsFrom(tok jwt.Token) (Claims, error) {
	var claims Claims
	var ok bool

	if claims.Subject, ok = tok.Subject(); !ok || claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if claims.ID, ok = tok.JwtID(); !ok || claims.ID == "" {
		return Claims{}, fmt.Errorf("%w: missing token id", ErrTokenMalformed)
	}
	if claims.IssuedAt, ok = tok.IssuedAt(); !ok {
		return Claims{}, fmt.Errorf("%w: missing issued-at", ErrTokenMalformed)
	}
	if claims.ExpiresAt, ok = tok.Expiration(); !ok {
		return Claims{}, fmt.Errorf("%w: missing expiry", ErrTokenMalformed)
	}
	claims.Issuer, _ = tok.Issuer()

	var typ string
	if err := tok.Get(claimType, &typ); err != nil {
		return Claims{}, fmt.Errorf("%w: missing token type", ErrTokenMalformed)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Claims{}, err
	}
	claims.Type = t

	if err := tok.Get(claimTenant, &claims.TenantID); err != nil {
		return Claims{}, fmt.Errorf("%w: missing tenant", ErrTokenMalformed)
	}

	claims.IssuedAt = claims.IssuedAt.UTC()
	claims.ExpiresAt = claims.ExpiresAt.UTC()
	return claims, nil
}

// newTokenID returns 16 random bytes rendered as hex
func newTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
