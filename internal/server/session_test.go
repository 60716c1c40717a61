package server_test

import (
	"errors"
	"testing"

	"github.com/samyycX/orwell/internal/connection"
	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/server"
	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

type pipeTransport struct {
	out chan<- []byte
	in  <-chan []byte
}

func newPipe() (a, b connection.Transport) {
	c1 := make(chan []byte, 32)
	c2 := make(chan []byte, 32)
	return &pipeTransport{out: c1, in: c2}, &pipeTransport{out: c2, in: c1}
}

func (p *pipeTransport) WriteMessage(_ int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	p.out <- cp
	return nil
}

func (p *pipeTransport) ReadMessage() (int, []byte, error) {
	data, ok := <-p.in
	if !ok {
		return 0, nil, errors.New("pipe closed")
	}
	return 2, data, nil
}

func (p *pipeTransport) Close() error { return nil }

// fakeClient drives the wire protocol from the client side far enough to
// exercise PreLogin and Register without a real UI.
type fakeClient struct {
	conn        *connection.Conn
	serverSigPK []byte
	replay      *envelope.ReplayCache
}

func dialFakeClient(t *testing.T, transport connection.Transport, sigSK []byte) *fakeClient {
	t.Helper()
	conn, serverSigPK, err := connection.NewClientConn("client-1", transport, sigSK)
	require.NoError(t, err)
	return &fakeClient{conn: conn, serverSigPK: serverSigPK, replay: envelope.NewReplayCache(envelope.FreshnessWindow, 64)}
}

func (c *fakeClient) send(t *testing.T, pt wire.PacketType, payload any) {
	t.Helper()
	b, err := wire.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.conn.Send(pt, b))
}

func (c *fakeClient) recv(t *testing.T, out any) wire.PacketType {
	t.Helper()
	pkt, err := c.conn.ReadNext(c.replay, func(wire.PacketType, []byte) ([]byte, error) {
		return c.serverSigPK, nil
	})
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, wire.Unmarshal(pkt.Payload, out))
	}
	return pkt.Type
}

func TestPreLoginAndRegisterFlow(t *testing.T) {
	st, err := server.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	serverT, clientT := newPipe()
	go func() { _ = st.HandleConnection("conn-alice", serverT) }()

	aliceSig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	aliceKEM, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)

	alice := dialFakeClient(t, clientT, aliceSig.PrivateKey)

	alice.send(t, wire.ClientPreLogin, &wire.PreLoginMsg{SigPublicKey: aliceSig.PublicKey, ProtocolVersion: server.ProtocolVersion})
	var preLoginResp wire.PreLoginResponseMsg
	require.Equal(t, wire.ServerPreLogin, alice.recv(t, &preLoginResp))
	require.False(t, preLoginResp.Registered)
	require.True(t, preLoginResp.CanRegister)

	alice.send(t, wire.ClientRegister, &wire.RegisterMsg{Name: "alice", KEMPublicKey: aliceKEM.PublicKey, SigPublicKey: aliceSig.PublicKey})
	var registerResp wire.RegisterResponseMsg
	require.Equal(t, wire.ServerRegisterResponse, alice.recv(t, &registerResp))
	require.True(t, registerResp.Success)
	require.NotEmpty(t, registerResp.ID)

	require.Equal(t, wire.ServerClientInfo, alice.recv(t, nil))
	require.Equal(t, wire.ServerHistoryMessage, alice.recv(t, nil))
}

func TestDuplicateNameRegistrationFails(t *testing.T) {
	st, err := server.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	serverT1, clientT1 := newPipe()
	go func() { _ = st.HandleConnection("conn-a", serverT1) }()
	sigA, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	kemA, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)
	a := dialFakeClient(t, clientT1, sigA.PrivateKey)
	a.send(t, wire.ClientPreLogin, &wire.PreLoginMsg{SigPublicKey: sigA.PublicKey, ProtocolVersion: server.ProtocolVersion})
	a.recv(t, &wire.PreLoginResponseMsg{})
	a.send(t, wire.ClientRegister, &wire.RegisterMsg{Name: "dup", KEMPublicKey: kemA.PublicKey, SigPublicKey: sigA.PublicKey})
	var respA wire.RegisterResponseMsg
	a.recv(t, &respA)
	require.True(t, respA.Success)
	a.recv(t, nil) // roster snapshot
	a.recv(t, nil) // history

	serverT2, clientT2 := newPipe()
	go func() { _ = st.HandleConnection("conn-b", serverT2) }()
	sigB, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	kemB, err := security.GenerateKEMKeyPair()
	require.NoError(t, err)
	b := dialFakeClient(t, clientT2, sigB.PrivateKey)
	b.send(t, wire.ClientPreLogin, &wire.PreLoginMsg{SigPublicKey: sigB.PublicKey, ProtocolVersion: server.ProtocolVersion})
	b.recv(t, &wire.PreLoginResponseMsg{})
	b.send(t, wire.ClientRegister, &wire.RegisterMsg{Name: "dup", KEMPublicKey: kemB.PublicKey, SigPublicKey: sigB.PublicKey})
	var respB wire.RegisterResponseMsg
	b.recv(t, &respB)
	require.False(t, respB.Success)
}
