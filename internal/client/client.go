// Package client implements the client side of the bound protocol state
// machine (spec §4.5, §4.6): handshake, PreLogin/Register/Login, and the
// send/receive loop a UI (explicitly out of scope, spec §1 Non-goals)
// would drive.
package client

import (
	"sync"

	"github.com/samyycX/orwell/internal/connection"
	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/groupmsg"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
)

// ProtocolVersion must match server.ProtocolVersion (spec §4.5 "PreLogin").
const ProtocolVersion uint32 = 1

// Peer is what the client knows about one other roster member: enough to
// seal a group message to them locally (spec §4.4 step 1, performed by the
// sender, never the server).
type Peer struct {
	ID     string
	Name   string
	Colour uint32
	Status wire.ClientStatus
	KEMPK  []byte
}

// Session drives one client connection end to end: the KDR handshake, the
// PreLogin/Register/Login trio, and the bound read/write loop. It owns no
// transport-dialing logic itself (internal/transport.Dial supplies that),
// and no UI.
type Session struct {
	conn        *connection.Conn
	serverSigPK []byte
	replay      *envelope.ReplayCache

	mu    sync.RWMutex
	peers map[string]*Peer
}

// Connect completes the handshake over t and returns a Session ready to
// PreLogin, signing every outgoing packet with sigSK (a fresh or
// vault-restored Dilithium secret key).
func Connect(t connection.Transport, sigSK []byte) (*Session, error) {
	conn, serverSigPK, err := connection.NewClientConn("self", t, sigSK)
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:        conn,
		serverSigPK: serverSigPK,
		replay:      envelope.NewReplayCache(envelope.FreshnessWindow, 256),
		peers:       make(map[string]*Peer),
	}, nil
}

// resolver always validates against the server's long-term signing key:
// the client has exactly one peer, the server (spec §4.2 "every packet is
// Dilithium-signed").
func (s *Session) resolver(wire.PacketType, []byte) ([]byte, error) {
	return s.serverSigPK, nil
}

// PreLogin announces the client's signing key and learns whether it must
// Register or may Login directly (spec §4.5 "PreLogin").
func (s *Session) PreLogin(sigPK []byte) (*wire.PreLoginResponseMsg, error) {
	payload, err := wire.Marshal(&wire.PreLoginMsg{SigPublicKey: sigPK, ProtocolVersion: ProtocolVersion})
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "client.PreLogin", err)
	}
	if err := s.conn.Send(wire.ClientPreLogin, payload); err != nil {
		return nil, err
	}

	pkt, err := s.conn.ReadNext(s.replay, s.resolver)
	if err != nil {
		return nil, err
	}
	var resp wire.PreLoginResponseMsg
	if err := wire.Unmarshal(pkt.Payload, &resp); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "client.PreLogin", err)
	}
	return &resp, nil
}

// Register claims name for a fresh identity (spec §4.5 "Register").
func (s *Session) Register(name string, kemPK, sigPK []byte) (*wire.RegisterResponseMsg, error) {
	payload, err := wire.Marshal(&wire.RegisterMsg{Name: name, KEMPublicKey: kemPK, SigPublicKey: sigPK})
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "client.Register", err)
	}
	if err := s.conn.Send(wire.ClientRegister, payload); err != nil {
		return nil, err
	}

	pkt, err := s.conn.ReadNext(s.replay, s.resolver)
	if err != nil {
		return nil, err
	}
	var resp wire.RegisterResponseMsg
	if err := wire.Unmarshal(pkt.Payload, &resp); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "client.Register", err)
	}
	return &resp, nil
}

// Login answers the PreLogin-issued token challenge: it recovers the
// plaintext token Kyber-sealed to our own KEM key, then signs that
// recovered plaintext with the profile's Dilithium secret key (spec §4.6).
func (s *Session) Login(sealedToken []byte, kemSK []byte, sigSK []byte) (*wire.LoginResponseMsg, error) {
	token, err := security.KEMOpen(kemSK, sealedToken)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "client.Login", err)
	}
	sig, err := security.Sign(sigSK, token)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "client.Login", err)
	}
	payload, err := wire.Marshal(&wire.LoginMsg{TokenSignature: sig})
	if err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "client.Login", err)
	}
	if err := s.conn.Send(wire.ClientLogin, payload); err != nil {
		return nil, err
	}

	pkt, err := s.conn.ReadNext(s.replay, s.resolver)
	if err != nil {
		return nil, err
	}
	var resp wire.LoginResponseMsg
	if err := wire.Unmarshal(pkt.Payload, &resp); err != nil {
		return nil, orwellerr.New(orwellerr.Protocol, "client.Login", err)
	}
	return &resp, nil
}

// Peers returns a snapshot of the currently-known roster.
func (s *Session) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// applyClientInfo updates the local roster view from a ServerClientInfo
// broadcast (spec §4.5 "Bound: every peer resends its roster").
func (s *Session) applyClientInfo(msg *wire.ClientInfoMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Status == wire.Offline {
		delete(s.peers, msg.ID)
		return
	}
	s.peers[msg.ID] = &Peer{ID: msg.ID, Name: msg.Name, Colour: msg.Colour, Status: msg.Status, KEMPK: msg.KEMPublicKey}
}

// SendText seals payload as an InnerMsgType message to every currently
// known peer and transmits it (spec §4.4: the sender, never the server,
// builds keys[]/body for ordinary content).
func (s *Session) SendText(msgType wire.InnerMsgType, payload []byte) error {
	recipients := s.groupRecipients()
	if len(recipients) == 0 {
		return nil
	}
	keys, body, err := groupmsg.Encode(msgType, payload, recipients)
	if err != nil {
		return err
	}
	wirePayload, err := wire.Marshal(&wire.MessageMsg{Type: msgType, Keys: keys, Body: body})
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "client.SendText", err)
	}
	return s.conn.Send(wire.ClientMessage, wirePayload)
}

func (s *Session) groupRecipients() []groupmsg.Recipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]groupmsg.Recipient, 0, len(s.peers))
	for _, p := range s.peers {
		if len(p.KEMPK) == 0 {
			continue
		}
		out = append(out, groupmsg.Recipient{ID: p.ID, KEMPK: p.KEMPK})
	}
	return out
}

// ChangeColour requests a roster colour change (spec §4.5 "ChangeColor").
func (s *Session) ChangeColour(colour uint32) error {
	payload, err := wire.Marshal(&wire.ChangeColorMsg{Colour: colour})
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "client.ChangeColour", err)
	}
	return s.conn.Send(wire.ClientChangeColor, payload)
}

// ToggleAfk sends the stateless AFK toggle (spec §4.5 "Afk").
func (s *Session) ToggleAfk() error {
	payload, err := wire.Marshal(&wire.AfkMsg{})
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "client.ToggleAfk", err)
	}
	return s.conn.Send(wire.ClientAfk, payload)
}

// Inbound is one decoded event delivered to the caller's receive loop.
type Inbound struct {
	Type      wire.InnerMsgType
	From      string
	FromName  string
	Colour    uint32
	Plaintext []byte
	History   bool
}

// Run drives the bound read loop until a read fails with a fatal error
// (including the connection closing), dispatching decoded events to onMsg
// and roster updates into the local peer map. Broadcasts that kemSK cannot
// open are skipped without ending the loop.
func (s *Session) Run(kemSK []byte, selfID string, onMsg func(Inbound)) error {
	for {
		pkt, err := s.conn.ReadNext(s.replay, s.resolver)
		if err != nil {
			if orwellerr.KindOf(err).Fatal() {
				return err
			}
			continue
		}

		switch pkt.Type {
		case wire.ServerHeartbeat:
			// no-op keep-alive

		case wire.ServerClientInfo:
			var msg wire.ClientInfoMsg
			if err := wire.Unmarshal(pkt.Payload, &msg); err == nil {
				s.applyClientInfo(&msg)
			}

		case wire.ServerBroadcastMessage:
			var msg wire.BroadcastMessageMsg
			if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
				continue
			}
			s.deliver(kemSK, selfID, &msg, false, onMsg)

		case wire.ServerHistoryMessage:
			var msg wire.HistoryMessageMsg
			if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
				continue
			}
			for i := range msg.Broadcasts {
				s.deliver(kemSK, selfID, &msg.Broadcasts[i], true, onMsg)
			}

		case wire.ServerOrwellRatchetStep:
			var msg wire.RatchetStepMsg
			if err := wire.Unmarshal(pkt.Payload, &msg); err == nil {
				_ = s.conn.StepRecvChain(msg.Ciphertext)
			}
		}
	}
}

func (s *Session) deliver(kemSK []byte, selfID string, msg *wire.BroadcastMessageMsg, history bool, onMsg func(Inbound)) {
	msgType, plaintext, err := groupmsg.Decode(selfID, kemSK, msg.Keys, msg.Body)
	if err != nil {
		return // not addressed to us, or undecryptable
	}
	onMsg(Inbound{
		Type:      msgType,
		From:      msg.SenderID,
		FromName:  msg.SenderName,
		Colour:    msg.Colour,
		Plaintext: plaintext,
		History:   history,
	})
}
