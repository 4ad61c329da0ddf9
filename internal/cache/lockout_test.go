package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutGuard_LocksAfterThreshold(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{})
	ctx := context.Background()
	id := "a@b.com"

	for i := 1; i <= 4; i++ {
		res, err := guard.RecordFailure(ctx, id)
		require.NoError(t, err)
		assert.False(t, res.Locked)
		assert.Equal(t, 5-i, res.RemainingAttempts)
	}

	res, err := guard.RecordFailure(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.True(t, res.Triggered)
	assert.Equal(t, 900*time.Second, res.LockoutTTL)
	assert.False(t, mr.Exists("test:lockout:attempts:{"+id+"}"), "counter cleared on lock")

	locked, ttl, err := guard.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.InDelta(t, float64(15*time.Minute), float64(ttl), float64(time.Second))

	mr.FastForward(10 * time.Second)
	res, err = guard.RecordFailure(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Locked, "still locked")
	assert.False(t, res.Triggered, "only the locking failure triggers")
	assert.Less(t, res.LockoutTTL, 900*time.Second, "a failure while locked does not extend the lock")
	assert.False(t, mr.Exists("test:lockout:attempts:{"+id+"}"), "failures while locked are not counted")

	mr.FastForward(15 * time.Minute)
	locked, _, err = guard.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked, "lock auto-expires")

	res, err = guard.RecordFailure(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, res.RemainingAttempts, "fresh counter after the lock")
}

func TestLockoutGuard_ConcurrentFailuresTriggerOnce(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{})
	ctx := context.Background()
	id := "a@b.com"

	const workers = 20
	results := make([]LockoutResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = guard.RecordFailure(ctx, id)
		}(i)
	}
	close(start)
	wg.Wait()

	triggered, locked := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Triggered {
			triggered++
		}
		if results[i].Locked {
			locked++
		}
	}
	assert.Equal(t, 1, triggered, "exactly one failure starts the lock")
	assert.Equal(t, workers-4, locked, "every failure past the threshold reports the lock")
	assert.False(t, mr.Exists("test:lockout:attempts:{"+id+"}"), "no new window opens while locked")
	assert.Equal(t, 15*time.Minute, mr.TTL("test:lockout:ban:{"+id+"}"))

	recent, err := guard.RecentFailures(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, recent, "failures while locked are not counted")
}

func TestLockoutGuard_ClearResetsCounter(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := guard.RecordFailure(ctx, "user")
		require.NoError(t, err)
	}
	require.NoError(t, guard.Clear(ctx, "user"))

	res, err := guard.RecordFailure(ctx, "user")
	require.NoError(t, err)
	assert.False(t, res.Locked)
	assert.Equal(t, 4, res.RemainingAttempts)

	recent, err := guard.RecentFailures(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 5, recent, "trailing counter survives a successful login")
}

func TestLockoutGuard_WindowExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{Threshold: 3, Window: time.Minute, Duration: time.Hour})
	ctx := context.Background()

	_, err := guard.RecordFailure(ctx, "user")
	require.NoError(t, err)
	_, err = guard.RecordFailure(ctx, "user")
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	res, err := guard.RecordFailure(ctx, "user")
	require.NoError(t, err)
	assert.False(t, res.Locked, "window started on the first failure and has passed")
	assert.Equal(t, 2, res.RemainingAttempts)
}

func TestLockoutGuard_Unlock(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{Threshold: 1})
	ctx := context.Background()

	res, err := guard.RecordFailure(ctx, "user")
	require.NoError(t, err)
	require.True(t, res.Locked)

	require.NoError(t, guard.Unlock(ctx, "user"))

	locked, ttl, err := guard.IsLocked(ctx, "user")
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Zero(t, ttl)
}

func TestLockoutGuard_RecentFailuresExpire(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{})
	ctx := context.Background()

	n, err := guard.RecentFailures(ctx, "user")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = guard.RecordFailure(ctx, "user")
	require.NoError(t, err)
	mr.FastForward(25 * time.Hour)

	n, err = guard.RecentFailures(ctx, "user")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLockoutGuard_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "test:", LockoutPolicy{})
	ctx := context.Background()

	mr.SetError("ERR connection lost")

	_, err := guard.RecordFailure(ctx, "user")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, _, err = guard.IsLocked(ctx, "user")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, guard.Clear(ctx, "user"), ErrUnavailable)
	assert.ErrorIs(t, guard.Unlock(ctx, "user"), ErrUnavailable)
	_, err = guard.RecentFailures(ctx, "user")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewLockoutGuard_Defaults(t *testing.T) {
	_, client := newTestRedis(t)
	guard := NewLockoutGuard(client, "", LockoutPolicy{Threshold: 3})

	assert.Equal(t, LockoutPolicy{Threshold: 3, Window: 15 * time.Minute, Duration: 15 * time.Minute}, guard.Policy())
}
