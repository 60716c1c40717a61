// Package connection implements the per-connection state machine (spec
// §4.5): handshake bootstrap, the bound ratchet session, and the serialized
// encrypt+send path every outgoing packet goes through.
package connection

import (
	"sync"

	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/ratchet"
	"github.com/samyycX/orwell/internal/wire"
)

// Phase is the connection's position in the lifecycle of spec §4.5, as
// opposed to ratchet.Phase which tracks only the KDR handshake.
type Phase int

const (
	PhaseHandshake Phase = iota
	PhaseAuthenticating
	PhaseBound
	PhaseClosed
)

// SigPKResolver resolves the Dilithium public key a freshly-decrypted
// packet must be validated against. For ClientPreLogin the key is
// self-declared in the packet's own payload; for Register and Login it is
// the key PreLogin presented; once the connection is bound it is the bound
// identity's key. Implemented by the server package,
// which owns the identity store.
type SigPKResolver func(pt wire.PacketType, rawPayload []byte) ([]byte, error)

// Conn is one server- or client-side connection, wrapping a transport and
// its ratchet session.
type Conn struct {
	ID      string
	t       Transport
	session *ratchet.Session

	writeMu  sync.Mutex // serializes encrypt+send (spec §5)
	ownSigSK []byte

	mu          sync.Mutex
	phase       Phase
	remoteSigPK []byte
	identityID  string
}

// NewServerConn completes the responder handshake over t and returns a
// bound-pending Conn. serverSigPK is the server's own long-term signing
// public key, advertised to the client in ServerHello.
func NewServerConn(id string, t Transport, serverSigSK, serverSigPK []byte) (*Conn, error) {
	session, err := RunServerHandshake(t, serverSigPK)
	if err != nil {
		return nil, err
	}
	return &Conn{ID: id, t: t, session: session, ownSigSK: serverSigSK, phase: PhaseAuthenticating}, nil
}

// NewClientConn completes the initiator handshake over t.
func NewClientConn(id string, t Transport, ownSigSK []byte) (*Conn, []byte, error) {
	session, serverSigPK, err := RunClientHandshake(t)
	if err != nil {
		return nil, nil, err
	}
	return &Conn{ID: id, t: t, session: session, ownSigSK: ownSigSK, phase: PhaseAuthenticating}, serverSigPK, nil
}

// Phase reports the connection's current lifecycle phase.
func (c *Conn) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Bind transitions the connection to Bound once login or registration
// succeeds, recording the identity id and the signing key all subsequent
// packets from this peer must be validated against.
func (c *Conn) Bind(identityID string, sigPK []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identityID = identityID
	c.remoteSigPK = sigPK
	c.phase = PhaseBound
}

// IdentityID returns the bound identity id, or "" if not yet bound.
func (c *Conn) IdentityID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identityID
}

// Close marks the connection closed and releases the transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.phase = PhaseClosed
	c.mu.Unlock()
	return c.t.Close()
}

// Send builds, signs, ratchet-seals and transmits a packet of type pt
// carrying payload, using the connection's own long-term signing key. The
// whole operation runs under writeMu so concurrent callers can't interleave
// a chain-step with a message send (spec §5's per-connection write lock).
func (c *Conn) Send(pt wire.PacketType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sp, err := envelope.Build(pt, payload, c.ownSigSK)
	if err != nil {
		return err
	}
	rp, err := c.session.Send(sp)
	if err != nil {
		return err
	}
	enc, err := wire.Marshal(rp)
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "connection.Send", err)
	}
	return writeFrame(c.t, frameRatchet, enc)
}

// SendStep triggers a ratchet chain step and transmits the resulting
// RatchetStep packet under the pre-step send chain (spec §4.3 "Chain step
// (send side)").
func (c *Conn) SendStep() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ct, err := c.session.Step()
	if err != nil {
		return err
	}
	payload, err := wire.Marshal(&wire.RatchetStepMsg{Ciphertext: ct})
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "connection.SendStep", err)
	}
	sp, err := envelope.Build(wire.ServerOrwellRatchetStep, payload, c.ownSigSK)
	if err != nil {
		return err
	}
	rp, err := c.session.Send(sp)
	if err != nil {
		return err
	}
	enc, err := wire.Marshal(rp)
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "connection.SendStep", err)
	}
	return writeFrame(c.t, frameRatchet, enc)
}

// ReadNext reads one ratchet frame, decrypts it, and validates its signed
// envelope, returning the inner packet. cache is the shared replay cache;
// resolver supplies the signing key to validate against.
func (c *Conn) ReadNext(cache envelope.Cache, resolver SigPKResolver) (*envelope.Packet, error) {
	f, err := readFrame(c.t)
	if err != nil {
		return nil, err
	}
	if f.Kind != frameRatchet {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "connection.ReadNext", "unexpected frame kind %d outside handshake", f.Kind)
	}

	var rp envelope.RatchetPacket
	if err := wire.Unmarshal(f.Payload, &rp); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "connection.ReadNext", err)
	}

	sp, err := c.session.Receive(&rp)
	if err != nil {
		return nil, err
	}

	sigPK, err := resolver(sp.Data.Type, sp.Data.Payload)
	if err != nil {
		return nil, err
	}

	return envelope.Validate(sp, sigPK, cache)
}

// StepRecvChain applies a peer-initiated chain step carried in a
// RatchetStep packet's payload.
func (c *Conn) StepRecvChain(ciphertext []byte) error {
	return c.session.StepRecvChain(ciphertext)
}
