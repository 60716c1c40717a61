package ratchet

import (
	"crypto/rand"
	"fmt"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
)

// salt64Size is the HKDF salt the responder samples to derive the root key
// (spec §4.3 HS1: "Sample salt64").
const salt64Size = 64

// CoverTrafficMin and CoverTrafficMax bound the random-length opaque padding
// the responder sends to end the unauthenticated phase (spec §4.3).
const (
	CoverTrafficMin = 1024
	CoverTrafficMax = 4096
)

// RespondHS1 is run by the responder (server) on receiving Hello(pk_L). It
// derives the root key and performs the server's own initial send-chain
// step, returning the fields of ServerHello and transitioning to HS2.
func (s *Session) RespondHS1(peerPK []byte) (salt64, ct0, ct1 []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != HS1 {
		return nil, nil, nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.RespondHS1", "not in HS1")
	}

	s.remotePK = append([]byte(nil), peerPK...)

	ss0, ct0, err := security.Encapsulate(peerPK)
	if err != nil {
		return nil, nil, nil, orwellerr.New(orwellerr.Crypto, "ratchet.RespondHS1", err)
	}

	salt64 = make([]byte, salt64Size)
	if _, err := rand.Read(salt64); err != nil {
		return nil, nil, nil, orwellerr.New(orwellerr.Crypto, "ratchet.RespondHS1", err)
	}

	root, err := security.HKDFExpand(ss0, salt64, []byte(infoRootKey), 32)
	if err != nil {
		return nil, nil, nil, orwellerr.New(orwellerr.Crypto, "ratchet.RespondHS1", err)
	}
	s.rootKey = root

	ss1, ct1, err := security.Encapsulate(peerPK)
	if err != nil {
		return nil, nil, nil, orwellerr.New(orwellerr.Crypto, "ratchet.RespondHS1", err)
	}

	derived, err := security.HKDFExpand(ss1, s.rootKey, []byte(infoDerive), 64)
	if err != nil {
		return nil, nil, nil, orwellerr.New(orwellerr.Crypto, "ratchet.RespondHS1", err)
	}
	newRoot, sendChain := splitRootAndChain(derived)
	s.rootKey = newRoot
	s.sendChainKey = sendChain
	s.sendCounter = 0

	if err := s.transition(HS2); err != nil {
		return nil, nil, nil, err
	}

	return salt64, ct0, ct1, nil
}

// AcceptServerHello is run by the initiator (client) on receiving
// ServerHello. It derives the same root key, consumes the server's initial
// send step into our receive chain, performs our own initial send step, and
// transitions to HS2 (waiting for the responder's transition to Ready).
func (s *Session) AcceptServerHello(serverPK, salt64, ct0, ct1 []byte) (ct2 []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != HS1 {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.AcceptServerHello", "not in HS1")
	}

	ss0, err := security.Decapsulate(s.localKEM.PrivateKey, ct0)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.AcceptServerHello", err)
	}
	root, err := security.HKDFExpand(ss0, salt64, []byte(infoRootKey), 32)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.AcceptServerHello", err)
	}
	s.rootKey = root
	s.remotePK = append([]byte(nil), serverPK...)

	ss1, err := security.Decapsulate(s.localKEM.PrivateKey, ct1)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.AcceptServerHello", err)
	}
	derived, err := security.HKDFExpand(ss1, s.rootKey, []byte(infoDerive), 64)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.AcceptServerHello", err)
	}
	newRoot, recvChain := splitRootAndChain(derived)
	s.rootKey = newRoot
	s.recvChainKey = recvChain
	s.recvCounter = 0

	ss2, ct2, err := security.Encapsulate(s.remotePK)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.AcceptServerHello", err)
	}
	derived2, err := security.HKDFExpand(ss2, s.rootKey, []byte(infoDerive), 64)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.AcceptServerHello", err)
	}
	newRoot2, sendChain := splitRootAndChain(derived2)
	s.rootKey = newRoot2
	s.sendChainKey = sendChain
	s.sendCounter = 0

	if err := s.transition(HS2); err != nil {
		return nil, err
	}

	return ct2, nil
}

// FinishHS2 is run by the responder (server) on receiving Hello2(ct2). It
// consumes the client's initial send step into our receive chain and
// transitions to Ready.
func (s *Session) FinishHS2(ct2 []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != HS2 {
		return orwellerr.Wrap(orwellerr.Protocol, "ratchet.FinishHS2", "not in HS2")
	}

	ss2, err := security.Decapsulate(s.localKEM.PrivateKey, ct2)
	if err != nil {
		return orwellerr.New(orwellerr.Crypto, "ratchet.FinishHS2", err)
	}
	derived, err := security.HKDFExpand(ss2, s.rootKey, []byte(infoDerive), 64)
	if err != nil {
		return orwellerr.New(orwellerr.Crypto, "ratchet.FinishHS2", err)
	}
	newRoot, recvChain := splitRootAndChain(derived)
	s.rootKey = newRoot
	s.recvChainKey = recvChain
	s.recvCounter = 0

	return s.transition(Ready)
}

// MarkReady is run by the initiator after it has received and discarded the
// responder's cover-traffic payload, completing the initiator's view of the
// handshake (spec §4.3: "After HS2, client sends PreLogin...").
func (s *Session) MarkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(Ready)
}

// GenerateCoverTraffic returns a random-length opaque payload with no
// protocol meaning, used by the responder to end the unauthenticated phase
// (spec §4.3).
func GenerateCoverTraffic() ([]byte, error) {
	n := CoverTrafficMin
	if CoverTrafficMax > CoverTrafficMin {
		delta := make([]byte, 4)
		if _, err := rand.Read(delta); err != nil {
			return nil, fmt.Errorf("ratchet: cover traffic length: %w", err)
		}
		span := CoverTrafficMax - CoverTrafficMin
		v := int(delta[0])<<24 | int(delta[1])<<16 | int(delta[2])<<8 | int(delta[3])
		if v < 0 {
			v = -v
		}
		n += v % span
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("ratchet: cover traffic body: %w", err)
	}
	return buf, nil
}
