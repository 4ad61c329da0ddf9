package users

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anvoria/tradeauth/internal/cache"
	"github.com/Anvoria/tradeauth/internal/domain/auth"
	"github.com/Anvoria/tradeauth/internal/domain/user"
	"github.com/Anvoria/tradeauth/internal/utils"
)

func newTestCommand(t *testing.T) (*Command, user.Service, *bytes.Buffer) {
	t.Helper()
	db := utils.SetupTestDB(t, &user.User{})
	svc := user.NewService(user.NewRepository(db))
	out := &bytes.Buffer{}
	_, rdb := utils.SetupTestRedis(t)
	guard := cache.NewLockoutGuard(rdb, "test:", cache.DefaultLockoutPolicy())
	return &Command{
		Out:         out,
		Open:        func() (user.Service, func(), error) { return svc, func() {}, nil },
		OpenLockout: func() (*cache.LockoutGuard, func(), error) { return guard, func() {}, nil },
	}, svc, out
}

func TestCreateAndDisable(t *testing.T) {
	cmd, svc, out := newTestCommand(t)
	ctx := context.Background()

	require.NoError(t, cmd.Run([]string{"create", "-tenant", "desk-1", "-identifier", "Trader", "-secret", "s3cret", "-verified"}))
	assert.Contains(t, out.String(), "Identifier: trader")

	p, err := svc.Verify(ctx, "trader", "s3cret", "desk-1")
	require.NoError(t, err)
	assert.True(t, p.Verified)

	err = cmd.Run([]string{"create", "-tenant", "desk-1", "-identifier", "trader", "-secret", "other"})
	assert.ErrorContains(t, err, "already exists")

	require.NoError(t, cmd.Run([]string{"disable", "-tenant", "desk-1", "-identifier", "TRADER"}))
	_, err = svc.Verify(ctx, "trader", "s3cret", "desk-1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestCreateRequiresSecret(t *testing.T) {
	t.Setenv("TRADEAUTH_SECRET", "")
	cmd, _, _ := newTestCommand(t)

	err := cmd.Run([]string{"create", "-tenant", "desk-1", "-identifier", "trader"})
	assert.ErrorIs(t, err, user.ErrMissingField)
}

func TestDisableRequiresFlags(t *testing.T) {
	cmd, _, _ := newTestCommand(t)
	assert.Error(t, cmd.Run([]string{"disable", "-tenant", "desk-1"}))
	assert.Error(t, cmd.Run([]string{"purge"}))
}

func TestUnlock(t *testing.T) {
	cmd, _, out := newTestCommand(t)
	guard, _, err := cmd.OpenLockout()
	require.NoError(t, err)
	ctx := context.Background()

	key := auth.LockoutKey("desk-1", "trader")
	for i := 0; i < cache.DefaultLockoutPolicy().Threshold; i++ {
		_, err := guard.RecordFailure(ctx, key)
		require.NoError(t, err)
	}
	locked, _, err := guard.IsLocked(ctx, key)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, cmd.Run([]string{"unlock", "-tenant", "desk-1", "-identifier", " Trader "}))
	assert.Contains(t, out.String(), "unlocked")

	locked, _, err = guard.IsLocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, locked)

	assert.Error(t, cmd.Run([]string{"unlock", "-tenant", "desk-1"}))
}
