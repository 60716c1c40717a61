package security

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// HashSHA3_512 hashes data with SHA3-512, the hash Dilithium5 signs over the
// canonical packet encoding per spec §4.1.
func HashSHA3_512(data []byte) []byte {
	h := sha3.New512()
	h.Write(data)
	return h.Sum(nil)
}

// HMACSHA256 is the only PRF used inside the ratchet's chain-key and
// message-key derivations.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HKDFExpand derives length bytes via HKDF-SHA256 with the given info
// string, used by the ratchet's root/chain derivations (unlike AEADSeal,
// which never carries an info string).
func HKDFExpand(ikm, salt, info []byte, length int) ([]byte, error) {
	return hkdfExpandWithInfo(ikm, salt, info, length)
}
