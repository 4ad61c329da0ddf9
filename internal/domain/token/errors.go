package token

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenMalformed is returned for tokens that fail to decode, carry a bad
	// signature or miss a required claim
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned when a well-formed token is past its expiry
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenTypeMismatch is returned when the token kind differs from the expected one
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	// ErrUnknownKey is returned when the active key id is not in the key set
	ErrUnknownKey = errors.New("unknown signing key")
)

// KeyFileError describes a key file that could not be used
type KeyFileError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *KeyFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key file %s: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("key file %s: %s", e.FileName, e.Reason)
}

func (e *KeyFileError) Unwrap() error {
	return e.Err
}

// KeysPathError is returned when the keys directory itself is unusable
type KeysPathError struct {
	Path string
	Err  error
}

func (e *KeysPathError) Error() string {
	return fmt.Sprintf("keys directory %s is not accessible: %v", e.Path, e.Err)
}

func (e *KeysPathError) Unwrap() error {
	return e.Err
}
