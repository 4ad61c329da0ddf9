package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.Login(true)
	c.Login(false)
	c.Login(false)
	c.Refresh(RefreshOK)
	c.Refresh(RefreshReplay)
	c.Lockout()
	c.Revoked(2)
	c.InfrastructureError("revocation")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.logins.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.logins.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues(RefreshReplay)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lockouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.revocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.infraErrors.WithLabelValues("revocation")))

	_, err = New(reg)
	assert.Error(t, err, "double registration is rejected")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Login(true)
		c.Refresh(RefreshOK)
		c.Lockout()
		c.Revoked(1)
		c.InfrastructureError("x")
	})
}
