package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateKeyPair writes private-<kid>.pem (PKCS1, 0600) and public-<kid>.pem
// (PKIX, 0644) into dir. Existing files are never overwritten.
func GenerateKeyPair(dir, kid string, bits int) (privPath, pubPath string, err error) {
	if kid == "" {
		return "", "", fmt.Errorf("key ID is required")
	}
	if bits != 2048 && bits != 3072 && bits != 4096 {
		return "", "", fmt.Errorf("key size must be 2048, 3072, or 4096")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create keys directory: %w", err)
	}

	privPath = filepath.Join(dir, fmt.Sprintf("private-%s.pem", kid))
	pubPath = filepath.Join(dir, fmt.Sprintf("public-%s.pem", kid))
	if _, err := os.Stat(privPath); err == nil {
		return "", "", fmt.Errorf("key with ID %s already exists at %s", kid, privPath)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate RSA key: %w", err)
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", err
	}

	if err := writePEM(privPath, 0600, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}); err != nil {
		return "", "", err
	}
	if err := writePEM(pubPath, 0644, &pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes}); err != nil {
		_ = os.Remove(privPath)
		return "", "", err
	}

	return privPath, pubPath, nil
}

func writePEM(path string, mode os.FileMode, block *pem.Block) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, block); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
