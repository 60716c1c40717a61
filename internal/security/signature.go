package security

import (
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium"
)

var sigScheme = dilithium.Mode5.Scheme()

// SigPublicKeySize, SigPrivateKeySize and SigSignatureSize are the exact
// Dilithium5 sizes.
var (
	SigPublicKeySize  = sigScheme.PublicKeySize()
	SigPrivateKeySize = sigScheme.PrivateKeySize()
	SigSignatureSize  = sigScheme.SignatureSize()
)

// SigKeyPair holds a Dilithium5 identity keypair in marshalled form.
type SigKeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateSigKeyPair creates a fresh Dilithium5 signing keypair.
func GenerateSigKeyPair() (*SigKeyPair, error) {
	pk, sk, err := sigScheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("sign: generate keypair: %w", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sign: marshal public key: %w", err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sign: marshal private key: %w", err)
	}
	return &SigKeyPair{PublicKey: pkBytes, PrivateKey: skBytes}, nil
}

// Sign produces a Dilithium5 signature over message (message is expected to
// already be the SHA3-512 hash of the canonical packet encoding, per
// spec §4.1).
func Sign(skBytes, message []byte) ([]byte, error) {
	sk, err := sigScheme.UnmarshalBinaryPrivateKey(skBytes)
	if err != nil {
		return nil, fmt.Errorf("sign: unmarshal private key: %w", err)
	}
	sig := sigScheme.Sign(sk, message, nil)
	return sig, nil
}

// Verify checks a Dilithium5 signature produced by Sign.
func Verify(pkBytes, message, sigBytes []byte) (bool, error) {
	pk, err := sigScheme.UnmarshalBinaryPublicKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("sign: unmarshal public key: %w", err)
	}
	return sigScheme.Verify(pk, message, sigBytes, nil), nil
}

var _ sign.Scheme = sigScheme
