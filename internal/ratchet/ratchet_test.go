package ratchet

import (
	"testing"

	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

// handshakeReadySessions drives a full HS1 -> HS2 -> Ready handshake between
// a client (initiator) and server (responder) session, per spec §4.3.
func handshakeReadySessions(t *testing.T) (client, server *Session) {
	t.Helper()

	client, err := NewSession(true)
	require.NoError(t, err)
	server, err = NewSession(false)
	require.NoError(t, err)

	salt64, ct0, ct1, err := server.RespondHS1(client.LocalPublicKey())
	require.NoError(t, err)

	ct2, err := client.AcceptServerHello(server.LocalPublicKey(), salt64, ct0, ct1)
	require.NoError(t, err)

	require.NoError(t, server.FinishHS2(ct2))
	require.NoError(t, client.MarkReady())

	require.Equal(t, Ready, client.Phase())
	require.Equal(t, Ready, server.Phase())

	return client, server
}

func buildSigned(t *testing.T, payload []byte) *envelope.SignedPacket {
	t.Helper()
	kp, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	sp, err := envelope.Build(wire.ClientMessage, payload, kp.PrivateKey)
	require.NoError(t, err)
	return sp
}

func TestHandshakeAndSendReceiveRoundTrip(t *testing.T) {
	client, server := handshakeReadySessions(t)

	sp := buildSigned(t, []byte("hi"))
	rp, err := client.Send(sp)
	require.NoError(t, err)

	got, err := server.Receive(rp)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), got.Data.Payload)
}

func TestSendCounterMonotonic(t *testing.T) {
	client, _ := handshakeReadySessions(t)

	rp0, err := client.Send(buildSigned(t, []byte("a")))
	require.NoError(t, err)
	rp1, err := client.Send(buildSigned(t, []byte("b")))
	require.NoError(t, err)

	require.Equal(t, uint64(0), rp0.SendCounter)
	require.Equal(t, uint64(1), rp1.SendCounter)
}

func TestOutOfOrderDelivery(t *testing.T) {
	client, server := handshakeReadySessions(t)

	rp0, err := client.Send(buildSigned(t, []byte("m0")))
	require.NoError(t, err)
	rp1, err := client.Send(buildSigned(t, []byte("m1")))
	require.NoError(t, err)
	rp2, err := client.Send(buildSigned(t, []byte("m2")))
	require.NoError(t, err)

	// Deliver as 2, 0, 1.
	got2, err := server.Receive(rp2)
	require.NoError(t, err)
	require.Equal(t, []byte("m2"), got2.Data.Payload)
	require.Equal(t, 2, server.SkippedCount())

	got0, err := server.Receive(rp0)
	require.NoError(t, err)
	require.Equal(t, []byte("m0"), got0.Data.Payload)
	require.Equal(t, 1, server.SkippedCount())

	got1, err := server.Receive(rp1)
	require.NoError(t, err)
	require.Equal(t, []byte("m1"), got1.Data.Payload)
	require.Equal(t, 0, server.SkippedCount())
}

func TestRatchetStepMidConversation(t *testing.T) {
	client, server := handshakeReadySessions(t)

	for i := 0; i < 5; i++ {
		rp, err := server.Send(buildSigned(t, []byte("srv-msg")))
		require.NoError(t, err)
		_, err = client.Receive(rp)
		require.NoError(t, err)
	}

	ct, err := server.Step()
	require.NoError(t, err)
	require.NoError(t, client.StepRecvChain(ct))

	rp, err := server.Send(buildSigned(t, []byte("post-step")))
	require.NoError(t, err)
	require.Equal(t, uint64(0), rp.SendCounter)

	got, err := client.Receive(rp)
	require.NoError(t, err)
	require.Equal(t, []byte("post-step"), got.Data.Payload)
}

func TestSkipBoundaryAccepted(t *testing.T) {
	client, server := handshakeReadySessions(t)

	var last *envelope.RatchetPacket
	for i := 0; i <= MaxSkipBound; i++ {
		rp, err := client.Send(buildSigned(t, []byte("x")))
		require.NoError(t, err)
		last = rp
	}
	_, err := server.Receive(last)
	require.NoError(t, err)
}

func TestSkipBoundExceededDropsConnection(t *testing.T) {
	client, server := handshakeReadySessions(t)

	var last *envelope.RatchetPacket
	for i := 0; i <= MaxSkipBound+1; i++ {
		rp, err := client.Send(buildSigned(t, []byte("x")))
		require.NoError(t, err)
		last = rp
	}
	_, err := server.Receive(last)
	require.Error(t, err)
}
