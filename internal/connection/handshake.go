package connection

import (
	"crypto/rand"
	"math/big"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/ratchet"
	"github.com/samyycX/orwell/internal/wire"
)

func writeFrame(t Transport, kind frameKind, payload []byte) error {
	b, err := encodeFrame(kind, payload)
	if err != nil {
		return err
	}
	if err := t.WriteMessage(binaryMessage, b); err != nil {
		return orwellerr.New(orwellerr.Transport, "connection.writeFrame", err)
	}
	return nil
}

func readFrame(t Transport) (*frame, error) {
	_, raw, err := t.ReadMessage()
	if err != nil {
		return nil, orwellerr.New(orwellerr.Transport, "connection.readFrame", err)
	}
	return decodeFrame(raw)
}

// randomCoverTraffic returns opaque bytes of random length in
// [ratchet.CoverTrafficMin, ratchet.CoverTrafficMax] (spec §4.3: "to
// terminate the unauthenticated phase").
func randomCoverTraffic() ([]byte, error) {
	span := ratchet.CoverTrafficMax - ratchet.CoverTrafficMin
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "connection.randomCoverTraffic", err)
	}
	length := ratchet.CoverTrafficMin + int(n.Int64())
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "connection.randomCoverTraffic", err)
	}
	return buf, nil
}

// RunServerHandshake drives the responder side of HS1->HS2->READY over t
// (spec §4.3's server column) and returns the resulting ratchet session.
// serverSigPK is advertised to the client so it can verify server-signed
// packets once bound.
func RunServerHandshake(t Transport, serverSigPK []byte) (*ratchet.Session, error) {
	f, err := readFrame(t)
	if err != nil {
		return nil, err
	}
	if f.Kind != frameHello {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "connection.RunServerHandshake", "expected Hello frame, got %d", f.Kind)
	}
	var hello wire.HelloMsg
	if err := wire.Unmarshal(f.Payload, &hello); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "connection.RunServerHandshake", err)
	}

	session, err := ratchet.NewSession(false)
	if err != nil {
		return nil, err
	}

	salt64, ct0, ct1, err := session.RespondHS1(hello.KEMPublicKey)
	if err != nil {
		return nil, err
	}

	serverHello := &wire.ServerHelloMsg{
		Salt64:       salt64,
		Ct0:          ct0,
		Ct1:          ct1,
		KEMPublicKey: session.LocalPublicKey(),
		SigPublicKey: serverSigPK,
	}
	payload, err := wire.Marshal(serverHello)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "connection.RunServerHandshake", err)
	}
	if err := writeFrame(t, frameServerHello, payload); err != nil {
		return nil, err
	}

	f, err = readFrame(t)
	if err != nil {
		return nil, err
	}
	if f.Kind != frameHello2 {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "connection.RunServerHandshake", "expected Hello2 frame, got %d", f.Kind)
	}
	var hello2 wire.Hello2Msg
	if err := wire.Unmarshal(f.Payload, &hello2); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "connection.RunServerHandshake", err)
	}
	if err := session.FinishHS2(hello2.Ct2); err != nil {
		return nil, err
	}

	cover, err := randomCoverTraffic()
	if err != nil {
		return nil, err
	}
	if err := writeFrame(t, frameCoverTraffic, cover); err != nil {
		return nil, err
	}

	return session, nil
}

// RunClientHandshake drives the initiator side of HS1->HS2->READY over t
// (spec §4.3's client column), returning the ratchet session and the
// server's long-term Dilithium public key as advertised in ServerHello.
func RunClientHandshake(t Transport) (*ratchet.Session, []byte, error) {
	session, err := ratchet.NewSession(true)
	if err != nil {
		return nil, nil, err
	}

	hello := &wire.HelloMsg{KEMPublicKey: session.LocalPublicKey()}
	payload, err := wire.Marshal(hello)
	if err != nil {
		return nil, nil, orwellerr.New(orwellerr.Protocol, "connection.RunClientHandshake", err)
	}
	if err := writeFrame(t, frameHello, payload); err != nil {
		return nil, nil, err
	}

	f, err := readFrame(t)
	if err != nil {
		return nil, nil, err
	}
	if f.Kind != frameServerHello {
		return nil, nil, orwellerr.Wrap(orwellerr.Protocol, "connection.RunClientHandshake", "expected ServerHello frame, got %d", f.Kind)
	}
	var serverHello wire.ServerHelloMsg
	if err := wire.Unmarshal(f.Payload, &serverHello); err != nil {
		return nil, nil, orwellerr.New(orwellerr.Protocol, "connection.RunClientHandshake", err)
	}

	ct2, err := session.AcceptServerHello(serverHello.KEMPublicKey, serverHello.Salt64, serverHello.Ct0, serverHello.Ct1)
	if err != nil {
		return nil, nil, err
	}

	hello2Payload, err := wire.Marshal(&wire.Hello2Msg{Ct2: ct2})
	if err != nil {
		return nil, nil, orwellerr.New(orwellerr.Protocol, "connection.RunClientHandshake", err)
	}
	if err := writeFrame(t, frameHello2, hello2Payload); err != nil {
		return nil, nil, err
	}

	f, err = readFrame(t)
	if err != nil {
		return nil, nil, err
	}
	if f.Kind != frameCoverTraffic {
		return nil, nil, orwellerr.Wrap(orwellerr.Protocol, "connection.RunClientHandshake", "expected cover traffic frame, got %d", f.Kind)
	}

	if err := session.MarkReady(); err != nil {
		return nil, nil, err
	}

	return session, serverHello.SigPublicKey, nil
}
