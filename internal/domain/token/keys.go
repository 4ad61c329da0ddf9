package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

const keyIDPrefix = "key-"

// KeyStore holds the RSA signing keys. Every key in the set can verify; only
// the active one signs.
type KeyStore struct {
	ActiveKid string
	KeySet    jwk.Set
	public    jwk.Set
}

// NewKeyStore builds a single-key store from an in-memory RSA key
func NewKeyStore(kid string, priv *rsa.PrivateKey) (*KeyStore, error) {
	keySet := jwk.NewSet()
	if err := addKey(keySet, kid, priv); err != nil {
		return nil, err
	}
	return newKeyStore(kid, keySet)
}

// LoadKeys reads every private-<kid>.pem / public-<kid>.pem pair in path
func LoadKeys(path, activeKid string) (*KeyStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &KeysPathError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return nil, &KeysPathError{Path: path, Err: errors.New("not a directory")}
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return nil, &KeysPathError{Path: path, Err: err}
	}

	keySet := jwk.NewSet()
	for _, file := range files {
		fileName := file.Name()
		if file.IsDir() || !strings.HasPrefix(fileName, "private-") || filepath.Ext(fileName) != ".pem" {
			continue
		}

		kid := strings.TrimSuffix(strings.TrimPrefix(fileName, "private-"), ".pem")
		if kid == "" {
			continue
		}

		priv, err := readPrivateKey(filepath.Join(path, fileName))
		if err != nil {
			return nil, err
		}

		pubFileName := fmt.Sprintf("public-%s.pem", kid)
		pub, err := readPublicKey(filepath.Join(path, pubFileName))
		if err != nil {
			return nil, err
		}
		if !pub.Equal(&priv.PublicKey) {
			return nil, &KeyFileError{FileName: pubFileName, Reason: "does not match " + fileName}
		}

		if err := addKey(keySet, kid, priv); err != nil {
			return nil, err
		}
	}

	return newKeyStore(activeKid, keySet)
}

func newKeyStore(activeKid string, keySet jwk.Set) (*KeyStore, error) {
	public, err := jwk.PublicSetOf(keySet)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key set: %w", err)
	}
	return &KeyStore{ActiveKid: activeKid, KeySet: keySet, public: public}, nil
}

func addKey(keySet jwk.Set, kid string, priv *rsa.PrivateKey) error {
	jwkKey, err := jwk.Import(priv)
	if err != nil {
		return fmt.Errorf("failed to convert private key to JWK: %w", err)
	}
	if err := jwkKey.Set(jwk.KeyIDKey, normalizeKid(kid)); err != nil {
		return fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := jwkKey.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return fmt.Errorf("failed to set algorithm: %w", err)
	}
	return keySet.AddKey(jwkKey)
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	fileName := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyFileError{FileName: fileName, Reason: "read failed", Err: err}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyFileError{FileName: fileName, Reason: "no PEM block"}
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &KeyFileError{FileName: fileName, Reason: "parse failed", Err: err}
	}
	priv, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, &KeyFileError{FileName: fileName, Reason: "not an RSA key"}
	}
	return priv, nil
}

func readPublicKey(path string) (*rsa.PublicKey, error) {
	fileName := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyFileError{FileName: fileName, Reason: "read failed", Err: err}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyFileError{FileName: fileName, Reason: "no PEM block"}
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &KeyFileError{FileName: fileName, Reason: "parse failed", Err: err}
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &KeyFileError{FileName: fileName, Reason: "not an RSA key"}
	}
	return rsaPub, nil
}

func normalizeKid(kid string) string {
	if strings.HasPrefix(kid, keyIDPrefix) {
		return kid
	}
	return keyIDPrefix + kid
}

// GetActiveKey returns the signing key
func (ks *KeyStore) GetActiveKey() (jwk.Key, error) {
	key, ok := ks.KeySet.LookupKeyID(normalizeKid(ks.ActiveKid))
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// JWKS returns the public half of every key
func (ks *KeyStore) JWKS() jwk.Set {
	return ks.public
}
