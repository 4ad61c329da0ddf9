package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCommand struct {
	name string
	args []string
}

func (s *stubCommand) Name() string        { return s.name }
func (s *stubCommand) Description() string { return "stub " + s.name }
func (s *stubCommand) Run(args []string) error {
	s.args = args
	return nil
}

func TestRegistry_Dispatch(t *testing.T) {
	var out bytes.Buffer
	r := NewRegistry()
	r.out = &out

	keys := &stubCommand{name: "keys"}
	r.Register(keys)
	r.Register(&stubCommand{name: "users"})

	require.NoError(t, r.Run([]string{"keys", "list", "-path", "/tmp"}))
	assert.Equal(t, []string{"list", "-path", "/tmp"}, keys.args)

	assert.ErrorContains(t, r.Run([]string{"nope"}), "unknown command")
	assert.Error(t, r.Run(nil))

	out.Reset()
	require.NoError(t, r.Run([]string{"help"}))
	assert.Contains(t, out.String(), "keys       stub keys")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("keys")), bytes.Index(out.Bytes(), []byte("users")))
}
