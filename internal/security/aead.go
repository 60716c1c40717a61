// Package security wraps the post-quantum and symmetric primitives the rest
// of the system builds on: AEAD, Kyber-1024 KEM, Dilithium5 signatures, and
// Argon2id password-based key derivation. Every exported function here is a
// thin, semantic wrapper over a library primitive — no protocol logic lives
// in this package.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	aeadSaltSize  = 32
	aeadNonceSize = 12
)

// AEADSeal encrypts plaintext under a key independently derived from ikm by
// HKDF-SHA256 for this call alone: salt(32) || nonce(12) || ciphertext_and_tag.
// ikm is a high-entropy secret (a chain/message key, a KEM shared secret, or
// a password-derived key); it is never used directly as the AES key.
func AEADSeal(ikm, plaintext []byte) ([]byte, error) {
	salt := make([]byte, aeadSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("aead: generate salt: %w", err)
	}
	nonce := make([]byte, aeadNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("aead: generate nonce: %w", err)
	}

	gcm, err := newGCM(ikm, salt)
	if err != nil {
		return nil, err
	}

	ct := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, aeadSaltSize+aeadNonceSize+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// AEADOpen reverses AEADSeal.
func AEADOpen(ikm, sealed []byte) ([]byte, error) {
	if len(sealed) < aeadSaltSize+aeadNonceSize {
		return nil, fmt.Errorf("aead: sealed payload too short")
	}
	salt := sealed[:aeadSaltSize]
	nonce := sealed[aeadSaltSize : aeadSaltSize+aeadNonceSize]
	ct := sealed[aeadSaltSize+aeadNonceSize:]

	gcm, err := newGCM(ikm, salt)
	if err != nil {
		return nil, err
	}

	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: decryption failed: %w", err)
	}
	return pt, nil
}

func newGCM(ikm, salt []byte) (cipher.AEAD, error) {
	key, err := hkdfDeriveKey(ikm, salt, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	return gcm, nil
}

// hkdfDeriveKey derives length bytes via HKDF-SHA256 with no info string,
// matching the exact shape used by every AEAD call in this system.
func hkdfDeriveKey(ikm, salt []byte, length int) ([]byte, error) {
	return hkdfExpandWithInfo(ikm, salt, nil, length)
}

// hkdfExpandWithInfo is the general HKDF-SHA256 expansion used both by AEAD
// (info always nil) and by the ratchet's root/chain derivations (info set to
// a domain-separation label).
func hkdfExpandWithInfo(ikm, salt, info []byte, length int) ([]byte, error) {
	h := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("hkdf: expand: %w", err)
	}
	return out, nil
}
