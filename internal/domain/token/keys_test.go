package token

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairAndLoad(t *testing.T) {
	dir := t.TempDir()

	privPath, pubPath, err := GenerateKeyPair(dir, "2026-01", 2048)
	require.NoError(t, err)
	assert.FileExists(t, privPath)
	assert.FileExists(t, pubPath)

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, _, err = GenerateKeyPair(dir, "2026-01", 2048)
	assert.Error(t, err, "existing key must not be overwritten")

	_, _, err = GenerateKeyPair(dir, "2026-02", 2048)
	require.NoError(t, err)

	ks, err := LoadKeys(dir, "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 2, ks.KeySet.Len())

	active, err := ks.GetActiveKey()
	require.NoError(t, err)
	kid, _ := active.KeyID()
	assert.Equal(t, "key-2026-02", kid)

	// tokens signed by a retired key still verify
	oldStore := &KeyStore{ActiveKid: "2026-01", KeySet: ks.KeySet, public: ks.JWKS()}
	oldCodec, err := NewCodec(oldStore, "iss")
	require.NoError(t, err)
	tok, _, err := oldCodec.Mint("user-1", "t", TypeAccess, time.Minute)
	require.NoError(t, err)

	codec, err := NewCodec(ks, "iss")
	require.NoError(t, err)
	_, err = codec.Verify(tok, TypeAccess)
	assert.NoError(t, err)
}

func TestGenerateKeyPair_Validation(t *testing.T) {
	_, _, err := GenerateKeyPair(t.TempDir(), "", 2048)
	assert.Error(t, err)

	_, _, err = GenerateKeyPair(t.TempDir(), "k", 1024)
	assert.Error(t, err)
}

func TestLoadKeys_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := LoadKeys(filepath.Join(t.TempDir(), "nope"), "main")
		var pathErr *KeysPathError
		assert.ErrorAs(t, err, &pathErr)
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "keys")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

		_, err := LoadKeys(file, "main")
		var pathErr *KeysPathError
		assert.ErrorAs(t, err, &pathErr)
	})

	t.Run("missing public half", func(t *testing.T) {
		dir := t.TempDir()
		_, pubPath, err := GenerateKeyPair(dir, "main", 2048)
		require.NoError(t, err)
		require.NoError(t, os.Remove(pubPath))

		_, err = LoadKeys(dir, "main")
		var fileErr *KeyFileError
		require.ErrorAs(t, err, &fileErr)
		assert.Equal(t, "public-main.pem", fileErr.FileName)
	})

	t.Run("mismatched pair", func(t *testing.T) {
		dir := t.TempDir()
		_, _, err := GenerateKeyPair(dir, "a", 2048)
		require.NoError(t, err)
		other := t.TempDir()
		_, otherPub, err := GenerateKeyPair(other, "a", 2048)
		require.NoError(t, err)

		data, err := os.ReadFile(otherPub)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "public-a.pem"), data, 0644))

		_, err = LoadKeys(dir, "a")
		var fileErr *KeyFileError
		assert.ErrorAs(t, err, &fileErr)
	})

	t.Run("garbage pem", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "private-x.pem"), []byte("nope"), 0600))

		_, err := LoadKeys(dir, "x")
		var fileErr *KeyFileError
		assert.ErrorAs(t, err, &fileErr)
	})
}

func TestKeyStore_UnknownActiveKey(t *testing.T) {
	ks, err := NewKeyStore("main", sharedKey(t))
	require.NoError(t, err)

	ks.ActiveKid = "missing"
	_, err = ks.GetActiveKey()
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = NewCodec(ks, "iss")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestKeyStore_JWKSIsPublic(t *testing.T) {
	ks, err := NewKeyStore("main", sharedKey(t))
	require.NoError(t, err)

	set := ks.JWKS()
	require.Equal(t, 1, set.Len())

	key, ok := set.Key(0)
	require.True(t, ok)

	var raw any
	require.NoError(t, jwk.Export(key, &raw))
	_, isPublic := raw.(*rsa.PublicKey)
	assert.True(t, isPublic)
}
