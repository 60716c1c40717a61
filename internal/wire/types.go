// Package wire defines the on-the-wire packet-type enumeration and the
// binary record codec used to serialize every typed payload in the system
// (spec §6). Field tags are carried as msgpack struct tags rather than a
// protobuf schema, since the numeric packet-type values and field semantics
// — not a particular codegen toolchain — are what the protocol treats as
// normative.
package wire

// PacketType identifies the payload carried inside an envelope Packet.
// Numeric values are normative (spec §6) and must not be renumbered.
type PacketType int32

const (
	ClientHeartbeat   PacketType = 0
	ClientHello       PacketType = 3
	ClientPreLogin    PacketType = 4
	ClientRegister    PacketType = 5
	ClientLogin       PacketType = 6
	ClientMessage     PacketType = 7
	ClientChangeColor PacketType = 8
	ClientAfk         PacketType = 9

	ServerHeartbeat           PacketType = 10000
	ServerHello               PacketType = 10003
	ServerPreLogin            PacketType = 10004
	ServerRegisterResponse    PacketType = 10005
	ServerLoginResponse       PacketType = 10006
	ServerClientInfo          PacketType = 10007
	ServerBroadcastMessage    PacketType = 10008
	ServerHistoryMessage      PacketType = 10009
	ServerChangeColorResponse PacketType = 10010
	ServerOrwellRatchetStep   PacketType = 10011
)

func (t PacketType) String() string {
	switch t {
	case ClientHeartbeat:
		return "ClientHeartbeat"
	case ClientHello:
		return "ClientHello"
	case ClientPreLogin:
		return "ClientPreLogin"
	case ClientRegister:
		return "ClientRegister"
	case ClientLogin:
		return "ClientLogin"
	case ClientMessage:
		return "ClientMessage"
	case ClientChangeColor:
		return "ClientChangeColor"
	case ClientAfk:
		return "ClientAfk"
	case ServerHeartbeat:
		return "ServerHeartbeat"
	case ServerHello:
		return "ServerHello"
	case ServerPreLogin:
		return "ServerPreLogin"
	case ServerRegisterResponse:
		return "ServerRegisterResponse"
	case ServerLoginResponse:
		return "ServerLoginResponse"
	case ServerClientInfo:
		return "ServerClientInfo"
	case ServerBroadcastMessage:
		return "ServerBroadcastMessage"
	case ServerHistoryMessage:
		return "ServerHistoryMessage"
	case ServerChangeColorResponse:
		return "ServerChangeColorResponse"
	case ServerOrwellRatchetStep:
		return "ServerOrwellRatchetStep"
	default:
		return "Unknown"
	}
}

// ClientStatus is a roster member's presence state.
type ClientStatus int32

const (
	Online  ClientStatus = 0
	Offline ClientStatus = 1
	Afk     ClientStatus = 2
)

func (s ClientStatus) String() string {
	switch s {
	case Online:
		return "Online"
	case Offline:
		return "Offline"
	case Afk:
		return "Afk"
	default:
		return "Unknown"
	}
}

// HelloMsg is ClientHello's payload: the initiator's ephemeral KEM public
// key (spec §4.3 HS1).
type HelloMsg struct {
	KEMPublicKey []byte `msgpack:"kem_pk"`
}

// ServerHelloMsg is ServerHello's payload.
type ServerHelloMsg struct {
	Salt64         []byte `msgpack:"salt64"`
	Ct0            []byte `msgpack:"ct0"`
	Ct1            []byte `msgpack:"ct1"`
	KEMPublicKey   []byte `msgpack:"kem_pk"`
	SigPublicKey   []byte `msgpack:"sig_pk"`
}

// Hello2Msg is the client's HS2 reply.
type Hello2Msg struct {
	Ct2 []byte `msgpack:"ct2"`
}

// PreLoginMsg identifies the connecting client by its long-term signing key.
type PreLoginMsg struct {
	SigPublicKey    []byte `msgpack:"sig_pk"`
	ProtocolVersion uint32 `msgpack:"version"`
}

// PreLoginResponseMsg is the server's reply to PreLogin.
type PreLoginResponseMsg struct {
	VersionMismatch bool   `msgpack:"version_mismatch"`
	Registered      bool   `msgpack:"registered"`
	CanRegister     bool   `msgpack:"can_register"`
	SealedToken     []byte `msgpack:"sealed_token,omitempty"`
}

// RegisterMsg requests a new identity.
type RegisterMsg struct {
	Name         string `msgpack:"name"`
	KEMPublicKey []byte `msgpack:"kem_pk"`
	SigPublicKey []byte `msgpack:"sig_pk"`
}

// RegisterResponseMsg is the server's reply to Register.
type RegisterResponseMsg struct {
	Success bool   `msgpack:"success"`
	Message string `msgpack:"message,omitempty"`
	Colour  uint32 `msgpack:"colour,omitempty"`
	ID      string `msgpack:"id,omitempty"`
}

// LoginMsg carries the client's Dilithium signature over its login token.
type LoginMsg struct {
	TokenSignature []byte `msgpack:"token_sig"`
}

// LoginResponseMsg is the server's reply to Login.
type LoginResponseMsg struct {
	Success bool   `msgpack:"success"`
	Message string `msgpack:"message,omitempty"`
	ID      string `msgpack:"id,omitempty"`
	Colour  uint32 `msgpack:"colour,omitempty"`
}

// MessageMsg is a client's outgoing group message, already sealed
// end-to-end by the sender: one Kyber-sealed content key per current
// roster recipient plus the once-encrypted body (spec §4.4). Type is sent
// in the clear alongside the sealed body so the server can persist
// msg_type_ without ever holding the plaintext (Text vs Image vs Me carry
// no confidentiality requirement on their own).
type MessageMsg struct {
	Type InnerMsgType `msgpack:"type"`
	Keys []SealedKey  `msgpack:"keys"`
	Body []byte       `msgpack:"body"`
}

// SealedKey pairs a recipient id with their KEM-sealed content key.
type SealedKey struct {
	ReceiverID string `msgpack:"receiver_id"`
	SealedKey  []byte `msgpack:"sealed_key"`
}

// BroadcastMessageMsg is what the server forwards to recipients.
type BroadcastMessageMsg struct {
	SenderID   string      `msgpack:"sender_id"`
	SenderName string      `msgpack:"sender_name"`
	Colour     uint32      `msgpack:"colour"`
	Timestamp  uint64      `msgpack:"timestamp"`
	Keys       []SealedKey `msgpack:"keys"`
	Body       []byte      `msgpack:"body"`
}

// HistoryMessageMsg replays persisted broadcasts on login.
type HistoryMessageMsg struct {
	Broadcasts []BroadcastMessageMsg `msgpack:"broadcasts"`
}

// ChangeColorMsg requests a colour change.
type ChangeColorMsg struct {
	Colour uint32 `msgpack:"colour"`
}

// ChangeColorResponseMsg is the server's reply.
type ChangeColorResponseMsg struct {
	Success bool   `msgpack:"success"`
	Message string `msgpack:"message,omitempty"`
	Colour  uint32 `msgpack:"colour,omitempty"`
}

// AfkMsg toggles the sender's AFK state; it carries no fields, the
// direction of the toggle is server-computed from current state.
type AfkMsg struct{}

// HeartbeatMsg is an empty keep-alive payload in both directions.
type HeartbeatMsg struct{}

// ClientInfoMsg is one roster broadcast entry. KEMPublicKey lets every
// client build its own group-message keys[] locally (spec §4.4 step 1 is
// performed by the sender, never the server, for ordinary text traffic).
type ClientInfoMsg struct {
	ID           string       `msgpack:"id"`
	Name         string       `msgpack:"name"`
	Colour       uint32       `msgpack:"colour"`
	Status       ClientStatus `msgpack:"status"`
	KEMPublicKey []byte       `msgpack:"kem_pk,omitempty"`
	EventOf      int32        `msgpack:"event_of,omitempty"`
}

// RatchetStepMsg carries the KEM ciphertext for a server-initiated chain
// step (spec §4.3).
type RatchetStepMsg struct {
	Ciphertext []byte `msgpack:"ct"`
}

// Inner message-type tag prepended to group message plaintext (spec §4.4,
// §6).
type InnerMsgType byte

const (
	Text        InnerMsgType = 0
	Login       InnerMsgType = 1
	Logout      InnerMsgType = 2
	ChangeColor InnerMsgType = 3
	Me          InnerMsgType = 4
	EnterAfk    InnerMsgType = 5
	LeftAfk     InnerMsgType = 6
	Image       InnerMsgType = 7
)

func (t InnerMsgType) String() string {
	switch t {
	case Text:
		return "Text"
	case Login:
		return "Login"
	case Logout:
		return "Logout"
	case ChangeColor:
		return "ChangeColor"
	case Me:
		return "Me"
	case EnterAfk:
		return "EnterAfk"
	case LeftAfk:
		return "LeftAfk"
	case Image:
		return "Image"
	default:
		return "Unknown"
	}
}
