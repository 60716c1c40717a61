// Package envelope implements the signed-packet frame and its anti-replay
// checks (spec §3, §4.2): the inner Packet, its Dilithium5-signed wrapper,
// and the ratchet-wrapped frame that ultimately goes on the wire.
package envelope

import (
	"fmt"
	"time"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
)

// FreshnessWindow is the fixed tolerance between a packet's timestamp and
// the validator's clock (spec §4.2 and §9 resolve the source's inconsistent
// 10s/10000ms constant in favor of 10 seconds, timestamps in milliseconds).
const FreshnessWindow = 10 * time.Second

// SaltSize is the size of a Packet's anti-replay salt (spec §3, resolved
// against the original implementation's 128-byte salt).
const SaltSize = 128

// Packet is the inner frame every signed packet carries.
type Packet struct {
	TimestampMs uint64          `msgpack:"ts"`
	Salt        []byte          `msgpack:"salt"`
	Type        wire.PacketType `msgpack:"type"`
	Payload     []byte          `msgpack:"payload"`
}

// SignedPacket wraps a Packet with a Dilithium5 signature over the SHA3-512
// hash of the packet's canonical encoding.
type SignedPacket struct {
	Data *Packet `msgpack:"data"`
	Sign []byte  `msgpack:"sign"`
}

// nowMs returns the current time in Unix milliseconds.
func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// generateSalt returns a fresh random anti-replay salt.
func generateSalt() ([]byte, error) {
	return security.GenerateSalt(SaltSize)
}

// HashPacket returns the SHA3-512 hash of p's canonical wire encoding, the
// exact bytes Dilithium5 signs over.
func HashPacket(p *Packet) ([]byte, error) {
	enc, err := wire.Marshal(p)
	if err != nil {
		return nil, err
	}
	return security.HashSHA3_512(enc), nil
}

// Build constructs and signs a new Packet of the given type carrying
// payload, using the sender's long-term Dilithium5 secret key.
func Build(typ wire.PacketType, payload []byte, sigSK []byte) (*SignedPacket, error) {
	salt, err := generateSalt()
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "envelope.Build", err)
	}
	p := &Packet{
		TimestampMs: nowMs(),
		Salt:        salt,
		Type:        typ,
		Payload:     payload,
	}
	hash, err := HashPacket(p)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "envelope.Build", err)
	}
	sig, err := security.Sign(sigSK, hash)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "envelope.Build", err)
	}
	return &SignedPacket{Data: p, Sign: sig}, nil
}

// Cache is the interface the replay cache must satisfy; Validate takes one
// so callers can supply either the process-global cache or a test double.
type Cache interface {
	CheckAndPut(salt []byte) bool
}

// Validate checks a SignedPacket's signature (when sigPK is non-nil),
// freshness, and replay status, per spec §4.2. sigPK may be nil only for the
// two pre-identification handshake packets where the signer is not yet
// known; callers must verify identity through other means in that case.
func Validate(sp *SignedPacket, sigPK []byte, cache Cache) (*Packet, error) {
	if sp == nil || sp.Data == nil {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "envelope.Validate", "empty signed packet")
	}
	data := sp.Data

	if sigPK != nil {
		hash, err := HashPacket(data)
		if err != nil {
			return nil, orwellerr.New(orwellerr.Crypto, "envelope.Validate", err)
		}
		ok, err := security.Verify(sigPK, hash, sp.Sign)
		if err != nil {
			return nil, orwellerr.New(orwellerr.Crypto, "envelope.Validate", err)
		}
		if !ok {
			return nil, orwellerr.Wrap(orwellerr.Crypto, "envelope.Validate", "signature verification failed")
		}
	}

	now := nowMs()
	var age int64
	if now >= data.TimestampMs {
		age = int64(now - data.TimestampMs)
	} else {
		age = int64(data.TimestampMs - now)
	}
	if age > FreshnessWindow.Milliseconds() {
		return nil, orwellerr.Wrap(orwellerr.Replay, "envelope.Validate", "timestamp outside freshness window")
	}

	if len(data.Salt) != SaltSize {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "envelope.Validate", "invalid salt length")
	}
	if !cache.CheckAndPut(data.Salt) {
		return nil, orwellerr.Wrap(orwellerr.Replay, "envelope.Validate", "duplicate salt")
	}

	return data, nil
}

// RatchetPacket is the outermost frame actually placed on the wire: a
// ratchet-encrypted SignedPacket plus the bookkeeping the receiver needs to
// locate the right message/skipped key (spec §3, §4.3).
type RatchetPacket struct {
	KEMPublicKey []byte `msgpack:"kem_pk"`
	SendCounter  uint64 `msgpack:"send_counter"`
	RecvCounter  uint64 `msgpack:"recv_counter"`
	Body         []byte `msgpack:"body"`
}

// SealSignedPacket AEAD-seals a SignedPacket's encoding under messageKey,
// framing it as a RatchetPacket.
func SealSignedPacket(sp *SignedPacket, kemPK []byte, sendCounter, recvCounter uint64, messageKey []byte) (*RatchetPacket, error) {
	enc, err := wire.Marshal(sp)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "envelope.SealSignedPacket", err)
	}
	body, err := security.AEADSeal(messageKey, enc)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "envelope.SealSignedPacket", err)
	}
	return &RatchetPacket{
		KEMPublicKey: kemPK,
		SendCounter:  sendCounter,
		RecvCounter:  recvCounter,
		Body:         body,
	}, nil
}

// OpenSignedPacket reverses SealSignedPacket.
func OpenSignedPacket(rp *RatchetPacket, messageKey []byte) (*SignedPacket, error) {
	pt, err := security.AEADOpen(messageKey, rp.Body)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "envelope.OpenSignedPacket", err)
	}
	var sp SignedPacket
	if err := wire.Unmarshal(pt, &sp); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "envelope.OpenSignedPacket", fmt.Errorf("decode signed packet: %w", err))
	}
	return &sp, nil
}
