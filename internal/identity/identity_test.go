package identity

import (
	"testing"

	"github.com/samyycX/orwell/internal/security"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	store := NewStore()
	kem, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)
	sig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	ident, err := store.Register("alice", kem.PublicKey, sig.PublicKey)
	require.NoError(t, err)
	require.NotEmpty(t, ident.ID)
	require.NotZero(t, ident.OnlineTime)

	got, ok := store.Lookup(sig.PublicKey)
	require.True(t, ok)
	require.Equal(t, ident.ID, got.ID)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	store := NewStore()
	kem1, _ := security.GenerateKEMKeyPair()
	sig1, _ := security.GenerateSigKeyPair()
	kem2, _ := security.GenerateKEMKeyPair()
	sig2, _ := security.GenerateSigKeyPair()

	_, err := store.Register("alice", kem1.PublicKey, sig1.PublicKey)
	require.NoError(t, err)

	_, err = store.Register("alice", kem2.PublicKey, sig2.PublicKey)
	require.Error(t, err)
}

func TestChangeColourRejectsCollision(t *testing.T) {
	store := NewStore()
	kem1, _ := security.GenerateKEMKeyPair()
	sig1, _ := security.GenerateSigKeyPair()
	kem2, _ := security.GenerateKEMKeyPair()
	sig2, _ := security.GenerateSigKeyPair()

	alice, err := store.Register("alice", kem1.PublicKey, sig1.PublicKey)
	require.NoError(t, err)
	bob, err := store.Register("bob", kem2.PublicKey, sig2.PublicKey)
	require.NoError(t, err)

	err = store.ChangeColour(bob.ID, alice.Colour)
	require.Error(t, err)

	err = store.ChangeColour(bob.ID, alice.Colour+1)
	require.NoError(t, err)
}

func TestTokenManagerValidateRoundTrip(t *testing.T) {
	mgr := NewTokenManager()
	sig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	token, err := mgr.Issue("conn-1", sig.PublicKey)
	require.NoError(t, err)

	signature, err := security.Sign(sig.PrivateKey, token)
	require.NoError(t, err)

	ok, err := mgr.Validate("conn-1", signature)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTokenManagerSingleUse(t *testing.T) {
	mgr := NewTokenManager()
	sig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	token, err := mgr.Issue("conn-1", sig.PublicKey)
	require.NoError(t, err)
	signature, err := security.Sign(sig.PrivateKey, token)
	require.NoError(t, err)

	_, err = mgr.Validate("conn-1", signature)
	require.NoError(t, err)

	_, err = mgr.Validate("conn-1", signature)
	require.Error(t, err)
}

func TestTokenManagerWrongSignatureStillConsumesToken(t *testing.T) {
	mgr := NewTokenManager()
	sig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	other, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	token, err := mgr.Issue("conn-1", sig.PublicKey)
	require.NoError(t, err)
	badSignature, err := security.Sign(other.PrivateKey, token)
	require.NoError(t, err)

	ok, err := mgr.Validate("conn-1", badSignature)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.Validate("conn-1", badSignature)
	require.Error(t, err)
}
