package ratchet

import (
	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
)

// Send encrypts a SignedPacket under the next send-chain message key and
// emits a RatchetPacket, advancing the send chain (spec §4.3 "Send").
func (s *Session) Send(sp *envelope.SignedPacket) (*envelope.RatchetPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Ready {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.Send", "session not ready")
	}
	if s.sendChainKey == nil {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.Send", "send chain not initialized")
	}

	messageKey := security.HMACSHA256(s.sendChainKey, []byte(labelMsgKey))
	s.sendChainKey = security.HMACSHA256(s.sendChainKey, []byte(labelChain))

	rp, err := envelope.SealSignedPacket(sp, s.localKEM.PublicKey, s.sendCounter, s.recvCounter, messageKey)
	if err != nil {
		return nil, err
	}
	s.sendCounter++
	return rp, nil
}

// Receive decrypts a RatchetPacket, fast-forwarding the receive chain over
// any skipped counters and recording their message keys for later
// out-of-order delivery (spec §4.3 "Receive").
func (s *Session) Receive(rp *envelope.RatchetPacket) (*envelope.SignedPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Ready {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.Receive", "session not ready")
	}

	id := skippedKeyID{kemPK: kemPKKey(rp.KEMPublicKey), counter: rp.SendCounter}
	if key, ok := s.skipped[id]; ok {
		delete(s.skipped, id)
		sp, err := envelope.OpenSignedPacket(rp, key)
		if err != nil {
			return nil, err
		}
		return sp, nil
	}

	if rp.SendCounter < s.recvCounter {
		return nil, orwellerr.Wrap(orwellerr.Replay, "ratchet.Receive", "send_counter %d below expected %d and not a cached skipped key", rp.SendCounter, s.recvCounter)
	}

	if rp.SendCounter-s.recvCounter > MaxSkipBound {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.Receive", "send_counter %d exceeds skip bound past expected %d", rp.SendCounter, s.recvCounter)
	}

	if s.recvChainKey == nil {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.Receive", "recv chain not initialized")
	}

	for s.recvCounter < rp.SendCounter {
		skipKey := security.HMACSHA256(s.recvChainKey, []byte(labelMsgKey))
		s.recvChainKey = security.HMACSHA256(s.recvChainKey, []byte(labelChain))
		skipID := skippedKeyID{kemPK: kemPKKey(rp.KEMPublicKey), counter: s.recvCounter}
		s.skipped[skipID] = skipKey
		s.recvCounter++
		s.evictOldestSkippedIfNeededLocked()
	}

	messageKey := security.HMACSHA256(s.recvChainKey, []byte(labelMsgKey))
	s.recvChainKey = security.HMACSHA256(s.recvChainKey, []byte(labelChain))
	s.recvCounter = rp.SendCounter + 1

	return envelope.OpenSignedPacket(rp, messageKey)
}

// evictOldestSkippedIfNeededLocked enforces the MaxSkipBound ceiling on the
// number of retained skipped keys, dropping the oldest entry if a
// fast-forward would otherwise exceed it. Must be called with s.mu held.
func (s *Session) evictOldestSkippedIfNeededLocked() {
	if len(s.skipped) <= MaxSkipBound {
		return
	}
	var oldest skippedKeyID
	first := true
	for id := range s.skipped {
		if first || id.counter < oldest.counter {
			oldest = id
			first = false
		}
	}
	delete(s.skipped, oldest)
}

// SkippedCount reports the number of retained skipped keys (tests and
// diagnostics).
func (s *Session) SkippedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.skipped)
}

// ShouldStep reports whether a send-side chain step should be triggered,
// implementing the Bernoulli trigger from spec §4.3 ("random Bernoulli,
// p ≈ 0.3 after READY, on the server only"). The probability is an
// operational knob, not a security boundary (spec §9).
func ShouldStep(roll func() float64) bool {
	const stepProbability = 0.3
	return roll() < stepProbability
}

// Step performs a send-side chain step: encapsulate to the remote KEM
// public key, derive a fresh root and send chain, and return the
// RatchetStep ciphertext to transmit using the pre-step send chain (spec
// §4.3 "Chain step (send side)").
func (s *Session) Step() (ciphertext []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Ready {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "ratchet.Step", "session not ready")
	}

	ss, ct, err := security.Encapsulate(s.remotePK)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.Step", err)
	}

	derived, err := security.HKDFExpand(ss, s.rootKey, []byte(infoDerive), 64)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "ratchet.Step", err)
	}
	newRoot, sendChain := splitRootAndChain(derived)

	s.rootKey = newRoot
	s.sendChainKey = sendChain
	s.sendCounter = 0

	return ct, nil
}

// StepRecvChain applies a peer-initiated chain step: derive a fresh root and
// receive chain from the KEM ciphertext carried in a RatchetStep packet
// (spec §4.3 "Chain step (receive side)").
func (s *Session) StepRecvChain(ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Ready {
		return orwellerr.Wrap(orwellerr.Protocol, "ratchet.StepRecvChain", "session not ready")
	}

	ss, err := security.Decapsulate(s.localKEM.PrivateKey, ciphertext)
	if err != nil {
		return orwellerr.New(orwellerr.Crypto, "ratchet.StepRecvChain", err)
	}

	derived, err := security.HKDFExpand(ss, s.rootKey, []byte(infoDerive), 64)
	if err != nil {
		return orwellerr.New(orwellerr.Crypto, "ratchet.StepRecvChain", err)
	}
	newRoot, recvChain := splitRootAndChain(derived)

	s.rootKey = newRoot
	s.recvChainKey = recvChain
	s.recvCounter = 0

	return nil
}
