package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	profile := &Profile{
		ID:         "id-1",
		Name:       "alice",
		Colour:     42,
		KEMPublic:  []byte("kem-pub"),
		KEMPrivate: []byte("kem-priv"),
		SigPublic:  []byte("sig-pub"),
		SigPrivate: []byte("sig-priv"),
	}

	sealed, err := Seal("hunter2", profile)
	require.NoError(t, err)

	opened, err := Open("hunter2", sealed)
	require.NoError(t, err)
	require.Equal(t, profile.ID, opened.ID)
	require.Equal(t, profile.Name, opened.Name)
	require.Equal(t, profile.KEMPrivate, opened.KEMPrivate)
}

func TestOpenWrongPasswordFails(t *testing.T) {
	profile := &Profile{ID: "id-1", Name: "alice"}
	sealed, err := Seal("hunter2", profile)
	require.NoError(t, err)

	_, err = Open("wrong-password", sealed)
	require.Error(t, err)
}

func TestOpenCorruptFileFails(t *testing.T) {
	profile := &Profile{ID: "id-1", Name: "alice"}
	sealed, err := Seal("hunter2", profile)
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = Open("hunter2", sealed)
	require.Error(t, err)
}
