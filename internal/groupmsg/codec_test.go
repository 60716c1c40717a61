package groupmsg

import (
	"testing"

	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	aliceKEM, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)
	bobKEM, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)

	recipients := []Recipient{
		{ID: "alice", KEMPK: aliceKEM.PublicKey},
		{ID: "bob", KEMPK: bobKEM.PublicKey},
	}

	keys, body, err := Encode(wire.Text, []byte("hi"), recipients)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	msgType, payload, err := Decode("bob", bobKEM.PrivateKey, keys, body)
	require.NoError(t, err)
	require.Equal(t, wire.Text, msgType)
	require.Equal(t, []byte("hi"), payload)

	msgType, payload, err = Decode("alice", aliceKEM.PrivateKey, keys, body)
	require.NoError(t, err)
	require.Equal(t, wire.Text, msgType)
	require.Equal(t, []byte("hi"), payload)
}

func TestDecodeUnknownRecipientFails(t *testing.T) {
	aliceKEM, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)

	keys, body, err := Encode(wire.Text, []byte("hi"), []Recipient{{ID: "alice", KEMPK: aliceKEM.PublicKey}})
	require.NoError(t, err)

	_, _, err = Decode("eve", aliceKEM.PrivateKey, keys, body)
	require.Error(t, err)
}
