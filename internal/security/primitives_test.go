package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("the quick brown fox")

	sealed, err := AEADSeal(key, plaintext)
	require.NoError(t, err)

	opened, err := AEADOpen(key, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestAEADWrongKeyFails(t *testing.T) {
	key := make([]byte, 32)
	other := make([]byte, 32)
	other[0] = 1

	sealed, err := AEADSeal(key, []byte("secret"))
	require.NoError(t, err)

	_, err = AEADOpen(other, sealed)
	require.Error(t, err)
}

func TestKEMRoundTrip(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	plaintext := []byte("content key material")
	sealed, err := KEMSeal(kp.PublicKey, plaintext)
	require.NoError(t, err)

	opened, err := KEMOpen(kp.PrivateKey, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigKeyPair()
	require.NoError(t, err)

	hash := HashSHA3_512([]byte("a packet"))
	sig, err := Sign(kp.PrivateKey, hash)
	require.NoError(t, err)

	ok, err := Verify(kp.PublicKey, hash, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(kp.PublicKey, HashSHA3_512([]byte("a different packet")), sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArgon2DeriveKeyRoundTrip(t *testing.T) {
	salt, err := GenerateSalt(32)
	require.NoError(t, err)

	k1, err := DeriveKey("correct horse", salt, nil)
	require.NoError(t, err)
	k2, err := DeriveKey("correct horse", salt, nil)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveKey("wrong password", salt, nil)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}
