package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvironmentType represents the application environment
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentProduction  EnvironmentType = "production"
)

// String returns the string representation of the environment type
func (e EnvironmentType) String() string {
	return string(e)
}

// IsValid checks if the environment type is valid
func (e EnvironmentType) IsValid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// Environment holds the environment variables
type Environment struct {
	Environment EnvironmentType `env:"ENVIRONMENT"`
	ConfigPath  string          `env:"CONFIG_PATH"`
	PrivateKey  string          `env:"PRIVATE_KEY"`
}

// LoadEnv loads a .env file from the working directory when one exists and
// then resolves the environment variables. Variables already set in the
// process win over the file.
func LoadEnv() *Environment {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	envType := EnvironmentType(strings.ToLower(strings.TrimSpace(getEnv("ENVIRONMENT", string(EnvironmentDevelopment)))))
	if !envType.IsValid() {
		envType = EnvironmentDevelopment
	}

	return &Environment{
		Environment: envType,
		ConfigPath:  getEnv("CONFIG_PATH", "config.yaml"),
		PrivateKey:  getEnv("PRIVATE_KEY", ""),
	}
}

// getEnv gets the environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

// minRSABits matches the smallest size the key generator accepts
const minRSABits = 2048

// LoadRSAPrivateKey loads an RSA signing key from a PEM string. Escaped "\n"
// sequences are accepted so the key fits on one line of a .env file.
// An empty PEM is an error in production; in development an ephemeral key is
// generated, which means tokens do not survive a restart.
func LoadRSAPrivateKey(privateKeyPEM string, env EnvironmentType) (*rsa.PrivateKey, error) {
	privateKeyPEM = strings.TrimSpace(strings.ReplaceAll(privateKeyPEM, `\n`, "\n"))
	if privateKeyPEM == "" {
		if env == EnvironmentProduction {
			return nil, fmt.Errorf("private key is required in production environment")
		}

		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		return privateKey, nil
	}

	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	if bits := key.N.BitLen(); bits < minRSABits {
		return nil, fmt.Errorf("signing key is %d bits, need at least %d", bits, minRSABits)
	}
	return key, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA private key")
	}

	return rsaKey, nil
}
