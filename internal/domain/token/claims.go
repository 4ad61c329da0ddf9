package token

import (
	"fmt"
	"time"
)

// Type is the closed set of token kinds the codec mints
type Type string

const (
	TypeAccess    Type = "access"
	TypeRefresh   Type = "refresh"
	TypeTemporary Type = "temporary"
)

// ParseType maps a claim value onto Type. Anything outside the set is malformed.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeAccess, TypeRefresh, TypeTemporary:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown token type %q", ErrTokenMalformed, s)
	}
}

func (t Type) String() string {
	return string(t)
}

// Claims is the fixed claim record carried by every token
type Claims struct {
	Subject   string
	TenantID  string
	Type      Type
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	Issuer    string
}

// Remaining returns how long the token stays valid after now, rounded up to
// a whole second so a denylist entry never expires before the token does.
func (c Claims) Remaining(now time.Time) time.Duration {
	d := c.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

// Expired reports whether the token is past its expiry at now
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
