package keys

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateListSetActive(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cmd := &Command{Out: &out}

	require.NoError(t, cmd.Run([]string{"generate", "-kid", "2026-10", "-path", dir}))
	assert.Contains(t, out.String(), "private-2026-10.pem")

	out.Reset()
	require.NoError(t, cmd.Run([]string{"list", "-path", dir, "-active", "2026-10"}))
	assert.Contains(t, out.String(), "key-2026-10 (ACTIVE)")
	assert.Contains(t, out.String(), "Key size: 2048 bits")

	out.Reset()
	require.NoError(t, cmd.Run([]string{"set-active", "-path", dir, "2026-10"}))
	assert.Contains(t, out.String(), "active_kid: 2026-10")

	assert.Error(t, cmd.Run([]string{"set-active", "-path", dir, "missing"}))
}

func TestRunRejectsBadInput(t *testing.T) {
	cmd := &Command{Out: &bytes.Buffer{}}

	assert.Error(t, cmd.Run(nil))
	assert.Error(t, cmd.Run([]string{"rotate"}))
	assert.Error(t, cmd.Run([]string{"generate", "-kid", "x", "-bits", "1024", "-path", t.TempDir()}))
}
