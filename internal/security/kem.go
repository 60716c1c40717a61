package security

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
)

var kemScheme = kyber1024.Scheme()

// KEMPublicKeySize, KEMPrivateKeySize and KEMCiphertextSize are the exact
// Kyber-1024 sizes exposed so callers can validate framed buffers without
// importing circl directly.
var (
	KEMPublicKeySize  = kemScheme.PublicKeySize()
	KEMPrivateKeySize = kemScheme.PrivateKeySize()
	KEMCiphertextSize = kemScheme.CiphertextSize()
)

// KEMKeyPair holds a Kyber-1024 identity or ephemeral keypair in its
// marshalled form; every other package deals in these bytes, never in
// circl's internal types.
type KEMKeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateKEMKeyPair creates a fresh Kyber-1024 keypair.
func GenerateKEMKeyPair() (*KEMKeyPair, error) {
	pk, sk, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("kem: generate keypair: %w", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("kem: marshal public key: %w", err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("kem: marshal private key: %w", err)
	}
	return &KEMKeyPair{PublicKey: pkBytes, PrivateKey: skBytes}, nil
}

// Encapsulate runs Kyber-1024 Encaps against the given public key, returning
// the shared secret and the ciphertext the peer needs to Decapsulate.
func Encapsulate(pkBytes []byte) (sharedSecret, ciphertext []byte, err error) {
	pk, err := kemScheme.UnmarshalBinaryPublicKey(pkBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("kem: unmarshal public key: %w", err)
	}
	ct, ss, err := kemScheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("kem: encapsulate: %w", err)
	}
	return ss, ct, nil
}

// Decapsulate recovers the shared secret from a ciphertext produced by
// Encapsulate, using the matching private key.
func Decapsulate(skBytes, ciphertext []byte) ([]byte, error) {
	sk, err := kemScheme.UnmarshalBinaryPrivateKey(skBytes)
	if err != nil {
		return nil, fmt.Errorf("kem: unmarshal private key: %w", err)
	}
	ss, err := kemScheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kem: decapsulate: %w", err)
	}
	return ss, nil
}

// KEMSeal implements spec §4.1's seal(data, kem_pk): encapsulate to pk, then
// AEAD-seal data under the shared secret, prefixing the raw KEM ciphertext.
func KEMSeal(pkBytes, data []byte) ([]byte, error) {
	ss, ct, err := Encapsulate(pkBytes)
	if err != nil {
		return nil, err
	}
	sealed, err := AEADSeal(ss, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(ct)+len(sealed))
	out = append(out, ct...)
	out = append(out, sealed...)
	return out, nil
}

// KEMOpen reverses KEMSeal, splitting off the fixed-length KEM ciphertext
// before decapsulating and AEAD-opening the remainder.
func KEMOpen(skBytes, sealed []byte) ([]byte, error) {
	if len(sealed) < KEMCiphertextSize {
		return nil, fmt.Errorf("kem: sealed payload shorter than ciphertext size")
	}
	ct := sealed[:KEMCiphertextSize]
	rest := sealed[KEMCiphertextSize:]

	ss, err := Decapsulate(skBytes, ct)
	if err != nil {
		return nil, err
	}
	return AEADOpen(ss, rest)
}

var _ kem.Scheme = kemScheme
