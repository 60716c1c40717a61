package envelope

import (
	"testing"
	"time"

	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestBuildAndValidateRoundTrip(t *testing.T) {
	kp, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	sp, err := Build(wire.ClientHeartbeat, []byte("payload"), kp.PrivateKey)
	require.NoError(t, err)

	cache := NewReplayCache(FreshnessWindow, 1024)
	data, err := Validate(sp, kp.PublicKey, cache)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data.Payload)
}

func TestValidateRejectsReplay(t *testing.T) {
	kp, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	sp, err := Build(wire.ClientHeartbeat, []byte("payload"), kp.PrivateKey)
	require.NoError(t, err)

	cache := NewReplayCache(FreshnessWindow, 1024)
	_, err = Validate(sp, kp.PublicKey, cache)
	require.NoError(t, err)

	_, err = Validate(sp, kp.PublicKey, cache)
	require.Error(t, err)
}

func TestValidateRejectsStaleTimestamp(t *testing.T) {
	kp, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	sp, err := Build(wire.ClientHeartbeat, []byte("payload"), kp.PrivateKey)
	require.NoError(t, err)
	sp.Data.TimestampMs = uint64(time.Now().Add(-FreshnessWindow - time.Second).UnixMilli())

	hash, err := HashPacket(sp.Data)
	require.NoError(t, err)
	sig, err := security.Sign(kp.PrivateKey, hash)
	require.NoError(t, err)
	sp.Sign = sig

	cache := NewReplayCache(FreshnessWindow, 1024)
	_, err = Validate(sp, kp.PublicKey, cache)
	require.Error(t, err)
}

func TestValidateRejectsBadSignature(t *testing.T) {
	kp, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	other, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	sp, err := Build(wire.ClientHeartbeat, []byte("payload"), kp.PrivateKey)
	require.NoError(t, err)

	cache := NewReplayCache(FreshnessWindow, 1024)
	_, err = Validate(sp, other.PublicKey, cache)
	require.Error(t, err)
}

func TestSealOpenRatchetPacketRoundTrip(t *testing.T) {
	kp, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	sp, err := Build(wire.ClientHeartbeat, []byte("hi"), kp.PrivateKey)
	require.NoError(t, err)

	messageKey := make([]byte, 32)

	kemKP, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)

	rp, err := SealSignedPacket(sp, kemKP.PublicKey, 0, 0, messageKey)
	require.NoError(t, err)

	opened, err := OpenSignedPacket(rp, messageKey)
	require.NoError(t, err)
	require.Equal(t, sp.Data.Payload, opened.Data.Payload)
}
