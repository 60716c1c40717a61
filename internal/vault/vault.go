// Package vault implements the client-side profile vault (spec §3
// "Profile vault"): a password-encrypted file holding a client's identity
// and long-term keypairs, so re-launching the client doesn't require
// re-registering.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
)

const (
	vaultSaltSize  = 32
	vaultNonceSize = 12
	magic          = "0RW3LL"
)

// Profile is the material stored inside a vault file.
type Profile struct {
	ID          string
	Name        string
	Colour      uint32
	KEMPublic   []byte
	KEMPrivate  []byte
	SigPublic   []byte
	SigPrivate  []byte
	ServerToken []byte
}

// Seal encrypts profile under a key derived from password via Argon2id,
// framed as salt(32) || nonce(12) || AEAD(...). The plaintext is prefixed
// with a magic string that Open checks after decryption. Open does not tell
// a wrong password apart from a corrupt file: both give the same Auth error.
func Seal(password string, profile *Profile) ([]byte, error) {
	salt, err := security.GenerateSalt(vaultSaltSize)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "vault.Seal", err)
	}

	key, err := security.DeriveKey(password, salt, security.DefaultArgon2Params())
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "vault.Seal", err)
	}

	encoded, err := wire.Marshal(profile)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "vault.Seal", err)
	}

	plaintext := append([]byte(magic), encoded...)

	nonce := make([]byte, vaultNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "vault.Seal", err)
	}

	sealed, err := aeadSealWithNonce(key, nonce, plaintext)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "vault.Seal", err)
	}

	out := make([]byte, 0, vaultSaltSize+vaultNonceSize+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts a vault file produced by Seal. A wrong password surfaces as
// an orwellerr.Auth error (magic-string mismatch or AEAD authentication
// failure), not a generic decode error.
func Open(password string, sealed []byte) (*Profile, error) {
	if len(sealed) < vaultSaltSize+vaultNonceSize {
		return nil, orwellerr.Wrap(orwellerr.Storage, "vault.Open", "vault file too short")
	}

	salt := sealed[:vaultSaltSize]
	nonce := sealed[vaultSaltSize : vaultSaltSize+vaultNonceSize]
	ct := sealed[vaultSaltSize+vaultNonceSize:]

	key, err := security.DeriveKey(password, salt, security.DefaultArgon2Params())
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "vault.Open", err)
	}

	plaintext, err := aeadOpenWithNonce(key, nonce, ct)
	if err != nil {
		return nil, orwellerr.Wrap(orwellerr.Auth, "vault.Open", "wrong password or corrupt vault")
	}

	if len(plaintext) < len(magic) || !bytes.Equal(plaintext[:len(magic)], []byte(magic)) {
		return nil, orwellerr.Wrap(orwellerr.Auth, "vault.Open", "wrong password or corrupt vault")
	}

	var profile Profile
	if err := wire.Unmarshal(plaintext[len(magic):], &profile); err != nil {
		return nil, orwellerr.New(orwellerr.Storage, "vault.Open", err)
	}
	return &profile, nil
}

// aeadSealWithNonce and aeadOpenWithNonce operate on an already-derived key
// directly (the Argon2id output), unlike security.AEADSeal/Open which
// derive a fresh per-call key from an ikm via HKDF. The vault's salt is
// consumed entirely by Argon2id, so no further derivation happens here.
func aeadSealWithNonce(key, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newRawGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func aeadOpenWithNonce(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newRawGCM(key)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decryption failed: %w", err)
	}
	return pt, nil
}

func newRawGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
