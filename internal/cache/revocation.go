package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked:"

// RevocationRegistry is the shared denylist of token ids. Entries expire on
// their own once the token they revoke could no longer be used anyway.
type RevocationRegistry struct {
	client redis.UniversalClient
	prefix string
}

// NewRevocationRegistry creates a registry storing keys under prefix
func NewRevocationRegistry(client redis.UniversalClient, prefix string) *RevocationRegistry {
	return &RevocationRegistry{client: client, prefix: prefix + revokedKeyPrefix}
}

func (r *RevocationRegistry) key(tokenID string) string {
	return r.prefix + tokenID
}

// Revoke denylists tokenID for at least ttl. Entries are write-once: a second
// revoke can extend the TTL but never shorten it. A non-positive ttl means the
// token has already expired and nothing is stored.
func (r *RevocationRegistry) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}

	key := r.key(tokenID)
	created, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return unavailable("revoke", err)
	}
	if created {
		slog.Debug("Token revoked", "token_id", tokenID, "ttl", ttl)
		return nil
	}

	current, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return unavailable("revoke", err)
	}
	switch {
	case current == -2:
		// expired between SETNX and TTL
		err = r.client.Set(ctx, key, "1", ttl).Err()
	case current >= 0 && current < ttl:
		err = r.client.Expire(ctx, key, ttl).Err()
	}
	if err != nil {
		return unavailable("revoke", err)
	}
	return nil
}

// IsRevoked reports whether tokenID is denylisted. Absence means "not known
// revoked"; a store error is returned as ErrUnavailable and must be treated
// as a rejection.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, unavailable("is_revoked", err)
	}
	return n > 0, nil
}
