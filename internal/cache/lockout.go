package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockoutAttemptsPrefix = "lockout:attempts:"
	lockoutBanPrefix      = "lockout:ban:"
	lockoutRecentPrefix   = "lockout:recent:"

	recentFailureWindow = 24 * time.Hour
)

// LockoutPolicy is a counter + window + threshold rule
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// DefaultLockoutPolicy locks after 5 failures for 15 minutes
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: 5,
		Window:    15 * time.Minute,
		Duration:  15 * time.Minute,
	}
}

// LockoutResult is the outcome of recording one failed attempt
type LockoutResult struct {
	Locked            bool
	RemainingAttempts int
	LockoutTTL        time.Duration
	// Triggered is set only on the failure that started the lock
	Triggered bool
}

// LockoutGuard counts failed logins per identifier in the shared store
type LockoutGuard struct {
	client redis.UniversalClient
	prefix string
	policy LockoutPolicy
}

// NewLockoutGuard creates a guard. Zero fields in policy take the defaults.
func NewLockoutGuard(client redis.UniversalClient, prefix string, policy LockoutPolicy) *LockoutGuard {
	def := DefaultLockoutPolicy()
	if policy.Threshold <= 0 {
		policy.Threshold = def.Threshold
	}
	if policy.Window <= 0 {
		policy.Window = def.Window
	}
	if policy.Duration <= 0 {
		policy.Duration = def.Duration
	}
	return &LockoutGuard{client: client, prefix: prefix, policy: policy}
}

// Policy returns the effective policy
func (g *LockoutGuard) Policy() LockoutPolicy {
	return g.policy
}

// The identifier is a hash tag so a cluster keeps all three keys of one
// identifier on the same slot, as the failure script requires.
func (g *LockoutGuard) attemptsKey(id string) string { return g.prefix + lockoutAttemptsPrefix + "{" + id + "}" }
func (g *LockoutGuard) banKey(id string) string      { return g.prefix + lockoutBanPrefix + "{" + id + "}" }
func (g *LockoutGuard) recentKey(id string) string   { return g.prefix + lockoutRecentPrefix + "{" + id + "}" }

// recordFailureScript checks the ban, counts the failure and sets the ban in
// one step so concurrent failures across instances trigger exactly one lock.
// Returns {locked, remaining, ttl_ms, triggered}.
var recordFailureScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	return {1, 0, ttl, 0}
end
local n = redis.call('INCR', KEYS[2])
if n == 1 then
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
local recent = redis.call('INCR', KEYS[3])
if recent == 1 then
	redis.call('PEXPIRE', KEYS[3], ARGV[4])
end
local threshold = tonumber(ARGV[1])
if n < threshold then
	return {0, threshold - n, 0, 0}
end
redis.call('SET', KEYS[1], n, 'PX', ARGV[3])
redis.call('DEL', KEYS[2])
return {1, 0, tonumber(ARGV[3]), 1}
`)

// RecordFailure counts one failed attempt. Reaching the threshold locks the
// identifier and resets the counter. Failures while locked are not counted and
// do not extend the lock.
func (g *LockoutGuard) RecordFailure(ctx context.Context, identifier string) (LockoutResult, error) {
	keys := []string{g.banKey(identifier), g.attemptsKey(identifier), g.recentKey(identifier)}
	res, err := recordFailureScript.Run(ctx, g.client, keys,
		g.policy.Threshold,
		g.policy.Window.Milliseconds(),
		g.policy.Duration.Milliseconds(),
		recentFailureWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return LockoutResult{}, unavailable("record_failure", err)
	}
	if len(res) != 4 {
		return LockoutResult{}, unavailable("record_failure", fmt.Errorf("unexpected script reply %v", res))
	}

	return LockoutResult{
		Locked:            res[0] == 1,
		RemainingAttempts: int(res[1]),
		LockoutTTL:        time.Duration(res[2]) * time.Millisecond,
		Triggered:         res[3] == 1,
	}, nil
}

// Clear drops the failure counter after a successful login
func (g *LockoutGuard) Clear(ctx context.Context, identifier string) error {
	if err := g.client.Del(ctx, g.attemptsKey(identifier)).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// IsLocked reports whether identifier is locked and for how much longer
func (g *LockoutGuard) IsLocked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	ttl, err := g.client.TTL(ctx, g.banKey(identifier)).Result()
	if err != nil {
		return false, 0, unavailable("is_locked", err)
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// Unlock is the administrative override: it lifts the lock and the counter
func (g *LockoutGuard) Unlock(ctx context.Context, identifier string) error {
	if err := g.client.Del(ctx, g.banKey(identifier), g.attemptsKey(identifier)).Err(); err != nil {
		return unavailable("unlock", err)
	}
	return nil
}

// RecentFailures returns the failed attempts of the trailing 24 hours.
// Unlike the lockout counter it survives locks and successful logins.
func (g *LockoutGuard) RecentFailures(ctx context.Context, identifier string) (int, error) {
	n, err := g.client.Get(ctx, g.recentKey(identifier)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("recent_failures", err)
	}
	return n, nil
}
