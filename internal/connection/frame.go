package connection

import (
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/wire"
)

// frameKind tags the handful of raw frames that cross the wire before the
// ratchet session reaches READY. These are transport bootstrapping
// containers sent before any signed envelope or ratchet exists, so they are
// tagged here rather than sent as wire.PacketType envelope packets
// (wire.ClientHello and wire.ServerHello are not used for them).
type frameKind byte

const (
	frameHello frameKind = iota
	frameServerHello
	frameHello2
	frameCoverTraffic
	frameRatchet
)

type frame struct {
	Kind    frameKind `msgpack:"kind"`
	Payload []byte    `msgpack:"payload"`
}

func encodeFrame(kind frameKind, payload []byte) ([]byte, error) {
	b, err := wire.Marshal(&frame{Kind: kind, Payload: payload})
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "connection.encodeFrame", err)
	}
	return b, nil
}

func decodeFrame(raw []byte) (*frame, error) {
	var f frame
	if err := wire.Unmarshal(raw, &f); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "connection.decodeFrame", err)
	}
	return &f, nil
}
