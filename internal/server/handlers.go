package server

import (
	"github.com/google/uuid"
	"github.com/samyycX/orwell/internal/history"
	"github.com/samyycX/orwell/internal/identity"
	"github.com/samyycX/orwell/internal/metrics"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
)

// connState is the authentication-in-progress state a connection goroutine
// tracks locally, before an identity is bound to the Conn (spec §4.5
// "Open -> Handshake -> Authentication -> Bound").
type connState struct {
	presentedSigPK []byte // captured at PreLogin, used to self-certify that packet and every packet until bound
}

// handlePreLogin answers a ClientPreLogin with whether the presented
// signing key is already registered, whether registration is still
// possible, and (when it is registered) a freshly issued login token (spec
// §4.5 "PreLogin").
func (s *ServerState) handlePreLogin(connID string, msg *wire.PreLoginMsg, st *connState) (*wire.PreLoginResponseMsg, error) {
	st.presentedSigPK = msg.SigPublicKey

	if msg.ProtocolVersion != ProtocolVersion {
		return &wire.PreLoginResponseMsg{VersionMismatch: true}, nil
	}

	if ident, ok := s.Identities.Lookup(msg.SigPublicKey); ok {
		token, err := s.Tokens.Issue(connID, ident.SigPK)
		if err != nil {
			return nil, err
		}
		sealed, err := security.KEMSeal(ident.KEMPK, token)
		if err != nil {
			return nil, orwellerr.New(orwellerr.Crypto, "server.handlePreLogin", err)
		}
		return &wire.PreLoginResponseMsg{Registered: true, SealedToken: sealed}, nil
	}

	return &wire.PreLoginResponseMsg{Registered: false, CanRegister: true}, nil
}

// handleRegister creates a new identity for a not-yet-registered signing
// key (spec §4.5 "Register"). The caller must have already resolved the
// packet's signature against msg.SigPublicKey via the PreLogin-captured
// key, so a successful Register call here means the presented key was
// proven to be held by whoever sent this packet.
func (s *ServerState) handleRegister(msg *wire.RegisterMsg) *wire.RegisterResponseMsg {
	ident, err := s.Identities.Register(msg.Name, msg.KEMPublicKey, msg.SigPublicKey)
	if err != nil {
		return &wire.RegisterResponseMsg{Success: false, Message: err.Error()}
	}
	if err := s.History.UpsertIdentity(ident.ID, ident.Name, ident.KEMPK, ident.SigPK, ident.Colour); err != nil {
		return &wire.RegisterResponseMsg{Success: false, Message: err.Error()}
	}
	return &wire.RegisterResponseMsg{Success: true, Colour: ident.Colour, ID: ident.ID}
}

// handleLogin validates a Login packet's token signature and, on success,
// binds the connection (spec §4.5 "Login").
func (s *ServerState) handleLogin(connID string, msg *wire.LoginMsg, st *connState) (*wire.LoginResponseMsg, *identity.Identity, error) {
	if st.presentedSigPK == nil {
		return &wire.LoginResponseMsg{Success: false, Message: "no PreLogin on this connection"}, nil, nil
	}

	ident, ok := s.Identities.Lookup(st.presentedSigPK)
	if !ok {
		return &wire.LoginResponseMsg{Success: false, Message: "unknown identity"}, nil, nil
	}

	valid, err := s.Tokens.Validate(connID, msg.TokenSignature)
	if err != nil {
		return &wire.LoginResponseMsg{Success: false, Message: "token validation failed"}, nil, nil
	}
	if !valid {
		return &wire.LoginResponseMsg{Success: false, Message: "bad token signature"}, nil, nil
	}

	s.Identities.TouchOnlineTime(ident.ID)
	return &wire.LoginResponseMsg{Success: true, ID: ident.ID, Colour: ident.Colour}, ident, nil
}

// handleMessage fans a client's already end-to-end sealed group message out
// to each recipient it named, persisting one history row per recipient
// (spec §4.4, §4.7). The server never touches the content key or
// plaintext: msg carries one Kyber-sealed key per recipient and one shared
// encrypted body, both built by the sender itself.
func (s *ServerState) handleMessage(sender *identity.Identity, msg *wire.MessageMsg) error {
	ts := nowMs()
	msgID := uuid.Must(uuid.NewV7()).String()
	body := msg.Body

	for _, k := range msg.Keys {
		row := history.Row{
			MsgID:      msgID,
			MsgType:    msg.Type,
			SenderID:   sender.ID,
			ReceiverID: k.ReceiverID,
			Timestamp:  ts,
		}
		single := &wire.BroadcastMessageMsg{
			SenderID:   sender.ID,
			SenderName: sender.Name,
			Colour:     sender.Colour,
			Timestamp:  uint64(ts),
			Keys:       []wire.SealedKey{k},
			Body:       body,
		}
		data, err := wire.Marshal(single)
		if err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.handleMessage", err)
		}
		row.UniqueID = uuid.Must(uuid.NewV7()).String()
		row.Data = data
		if err := s.History.InsertMessage(row); err != nil {
			return err
		}
		metrics.HistoryRowsStoredTotal.Inc()

		if conn, ok := s.connByIdentity(k.ReceiverID); ok {
			if err := conn.Send(wire.ServerBroadcastMessage, data); err == nil {
				s.maybeStepChain(conn)
				metrics.RecordMessageRelayed(msg.Type.String())
			}
		}
	}

	return nil
}

// handleChangeColor reassigns sender's roster colour (spec §4.5
// "ChangeColor").
func (s *ServerState) handleChangeColor(sender *identity.Identity, msg *wire.ChangeColorMsg) *wire.ChangeColorResponseMsg {
	if err := s.Identities.ChangeColour(sender.ID, msg.Colour); err != nil {
		return &wire.ChangeColorResponseMsg{Success: false, Message: err.Error()}
	}
	sender.Colour = msg.Colour
	return &wire.ChangeColorResponseMsg{Success: true, Colour: msg.Colour}
}

// replayHistory builds the HistoryMessage holding the last HistoryLimit
// broadcasts addressed to a newly-bound client; bind sends it (spec §4.7
// "History on login").
func (s *ServerState) replayHistory(identityID string) (*wire.HistoryMessageMsg, error) {
	rows, err := s.History.FetchHistory(identityID, HistoryLimit)
	if err != nil {
		return nil, err
	}

	broadcasts := make([]wire.BroadcastMessageMsg, 0, len(rows))
	for _, r := range rows {
		var msg wire.BroadcastMessageMsg
		if err := wire.Unmarshal(r.Data, &msg); err != nil {
			continue
		}
		broadcasts = append(broadcasts, msg)
	}
	return &wire.HistoryMessageMsg{Broadcasts: broadcasts}, nil
}
