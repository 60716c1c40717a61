// Package ratchet implements the Kyber Double Ratchet (KDR): a KEM-based
// analogue of Signal's Double Ratchet providing forward secrecy and
// post-compromise recovery over a single connection (spec §4.3).
package ratchet

import (
	"sync"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
)

// Phase is the KDR handshake state. Only HS1 -> HS2 -> Ready transitions are
// legal; any other observed transition terminates the connection.
type Phase int

const (
	HS1 Phase = iota
	HS2
	Ready
)

// MaxSkipBound is the hard limit on how far a receive chain will
// fast-forward to satisfy an out-of-order send_counter (spec §4.3, §8).
const MaxSkipBound = 1024

const (
	infoRootKey = "OrwellKDRRootKey"
	infoDerive  = "OrwellKDRDerive"
	labelMsgKey = "OrwellKDRMessageKey"
	labelChain  = "OrwellKDRChainKey"
)

// skippedKeyID identifies one retained-but-unused message key.
type skippedKeyID struct {
	kemPK   string // the sender's KEM public key in effect when the key was derived
	counter uint64
}

// Session holds one connection's full KDR state (spec §3 "Session state").
type Session struct {
	mu sync.Mutex

	phase Phase

	localKEM *security.KEMKeyPair // our current ephemeral KEM keypair
	remotePK []byte               // peer's current KEM public key

	rootKey      []byte
	sendChainKey []byte
	recvChainKey []byte

	sendCounter uint64
	recvCounter uint64

	skipped map[skippedKeyID][]byte

	isInitiator bool
}

// NewSession allocates a Session in phase HS1 with a fresh ephemeral KEM
// keypair. isInitiator is true on the client side.
func NewSession(isInitiator bool) (*Session, error) {
	kp, err := security.GenerateKEMKeyPair()
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.NewSession", err)
	}
	return &Session{
		phase:       HS1,
		localKEM:    kp,
		skipped:     make(map[skippedKeyID][]byte),
		isInitiator: isInitiator,
	}, nil
}

// Phase returns the session's current handshake phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// LocalPublicKey returns the session's current ephemeral KEM public key.
func (s *Session) LocalPublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localKEM.PublicKey
}

// transition enforces the HS1 -> HS2 -> Ready ordering (spec invariant 6).
func (s *Session) transition(to Phase) error {
	switch {
	case s.phase == HS1 && to == HS2:
	case s.phase == HS2 && to == Ready:
	default:
		return orwellerr.Wrap(orwellerr.Protocol, "ratchet.transition", "illegal phase transition %d -> %d", s.phase, to)
	}
	s.phase = to
	return nil
}

func splitRootAndChain(seed []byte) (root, chain []byte) {
	return seed[:32], seed[32:64]
}

func kemPKKey(pk []byte) string {
	return string(pk)
}
