package security

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2Params controls the memory-hard KDF used only for profile vault
// encryption (spec §3 — never for network authentication).
type Argon2Params struct {
	Time      uint32
	Memory    uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params returns the library's default parameters, per spec
// §4.1 ("Argon2id with the library's default parameters").
func DefaultArgon2Params() *Argon2Params {
	return &Argon2Params{
		Time:      1,
		Memory:    64 * 1024,
		Threads:   4,
		KeyLength: 32,
	}
}

// DeriveKey derives a key from a password and salt using Argon2id. This is
// the profile vault's password KDF: it never leaves the client and is never
// used to authenticate to the server.
func DeriveKey(password string, salt []byte, params *Argon2Params) ([]byte, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	if len(salt) < 8 {
		return nil, errors.New("salt must be at least 8 bytes")
	}
	if params == nil {
		params = DefaultArgon2Params()
	}
	return argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLength), nil
}

// GenerateSalt returns a cryptographically secure random salt of length
// bytes; a length below 8 is raised to 16.
func GenerateSalt(length int) ([]byte, error) {
	if length < 8 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("argon2: generate salt: %w", err)
	}
	return salt, nil
}
