package connection

import (
	"errors"
	"testing"

	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

// pipeTransport is an in-memory Transport double connecting two ends
// directly through channels, standing in for a real websocket connection.
type pipeTransport struct {
	out chan<- []byte
	in  <-chan []byte
}

func newPipe() (a, b Transport) {
	c1 := make(chan []byte, 16)
	c2 := make(chan []byte, 16)
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
	return binaryMessage, data, nil
}

func (p *pipeTransport) Close() error { return nil }

func handshakePair(t *testing.T) (server, client *Conn) {
	t.Helper()

	serverSig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)
	clientSig, err := security.GenerateSigKeyPair()
	require.NoError(t, err)

	serverT, clientT := newPipe()

	serverCh := make(chan *Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := NewServerConn("conn-1", serverT, serverSig.PrivateKey, serverSig.PublicKey)
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- c
	}()

	clientConn, _, err := NewClientConn("client-1", clientT, clientSig.PrivateKey)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		t.Fatalf("server handshake failed: %v", err)
	case serverConn := <-serverCh:
		return serverConn, clientConn
	}
	return nil, nil
}

func TestHandshakeThenSendReceive(t *testing.T) {
	server, client := handshakePair(t)

	replayCache := envelope.NewReplayCache(envelope.FreshnessWindow, 128)

	payload, err := wire.Marshal(&wire.HeartbeatMsg{})
	require.NoError(t, err)
	require.NoError(t, client.Send(wire.ClientHeartbeat, payload))

	pkt, err := server.ReadNext(replayCache, func(pt wire.PacketType, raw []byte) ([]byte, error) {
		return nil, nil // nil sigPK skips signature check, matching pre-identity packets
	})
	require.NoError(t, err)
	require.Equal(t, wire.ClientHeartbeat, pkt.Type)
}
