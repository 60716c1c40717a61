package roster

import (
	"testing"

	"github.com/samyycX/orwell/internal/identity"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

func newIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	store := identity.NewStore()
	kem, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)
	sig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	ident, err := store.Register(name, kem.PublicKey, sig.PublicKey)
	require.NoError(t, err)
	return ident
}

func TestBindUnbindAfk(t *testing.T) {
	r := New()
	alice := newIdentity(t, "alice")

	r.Bind(alice)
	entry, ok := r.Get(alice.ID)
	require.True(t, ok)
	require.Equal(t, wire.Online, entry.Status)

	require.NoError(t, r.SetAfk(alice.ID, true))
	entry, _ = r.Get(alice.ID)
	require.Equal(t, wire.Afk, entry.Status)

	require.NoError(t, r.SetAfk(alice.ID, false))
	entry, _ = r.Get(alice.ID)
	require.Equal(t, wire.Online, entry.Status)

	r.Unbind(alice.ID)
	entry, _ = r.Get(alice.ID)
	require.Equal(t, wire.Offline, entry.Status)
}

func TestSetAfkRejectsOffline(t *testing.T) {
	r := New()
	alice := newIdentity(t, "alice")
	r.Bind(alice)
	r.Unbind(alice.ID)

	err := r.SetAfk(alice.ID, true)
	require.Error(t, err)
}

func TestOnlineExcludesOfflineAndIncludesAfk(t *testing.T) {
	r := New()
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")
	carol := newIdentity(t, "carol")

	r.Bind(alice)
	r.Bind(bob)
	r.Bind(carol)

	require.NoError(t, r.SetAfk(bob.ID, true))
	r.Unbind(carol.ID)

	online := r.Online()
	ids := make(map[string]bool)
	for _, ident := range online {
		ids[ident.ID] = true
	}
	require.True(t, ids[alice.ID])
	require.True(t, ids[bob.ID])
	require.False(t, ids[carol.ID])
}
