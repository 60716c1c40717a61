package server

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/samyycX/orwell/internal/connection"
	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/identity"
	"github.com/samyycX/orwell/internal/metrics"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/wire"
)

// heartbeatMin and heartbeatMax bound the jittered interval at which the
// server pings a bound connection (spec §4.5 "heartbeat, 15-40s jittered").
const (
	heartbeatMin = 15 * time.Second
	heartbeatMax = 40 * time.Second
)

// jitteredHeartbeatInterval draws a uniform duration in
// [heartbeatMin, heartbeatMax).
func jitteredHeartbeatInterval() time.Duration {
	span := int64(heartbeatMax - heartbeatMin)
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return heartbeatMin
	}
	n := int64(binary.BigEndian.Uint64(buf[:])) % span
	if n < 0 {
		n = -n
	}
	return heartbeatMin + time.Duration(n)
}

// runHeartbeat periodically sends ServerHeartbeat on conn until stop is
// closed, re-rolling the jittered interval after every beat.
func runHeartbeat(conn *connection.Conn, stop <-chan struct{}) {
	payload, err := wire.Marshal(&wire.HeartbeatMsg{})
	if err != nil {
		return
	}
	for {
		timer := time.NewTimer(jitteredHeartbeatInterval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			if conn.Send(wire.ServerHeartbeat, payload) != nil {
				return
			}
		}
	}
}

// HandleConnection runs one connection's full lifecycle over t: handshake,
// PreLogin/Register-or-Login, then the bound read/dispatch loop, until the
// peer disconnects or a fatal error occurs (spec §4.5's state machine). It
// blocks until the connection closes.
func (s *ServerState) HandleConnection(connID string, t connection.Transport) error {
	conn, err := connection.NewServerConn(connID, t, s.SigSK, s.SigPK)
	if err != nil {
		metrics.RecordHandshake(false)
		return err
	}
	metrics.RecordHandshake(true)
	metrics.ActiveConnections.Inc()
	s.registerConn(conn)
	defer func() {
		metrics.ActiveConnections.Dec()
		s.cleanup(conn)
	}()

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go runHeartbeat(conn, stopHeartbeat)

	st := &connState{}
	resolver := s.makeResolver(conn, st)

	for {
		pkt, err := conn.ReadNext(s.Replay, resolver)
		if err != nil {
			if orwellerr.KindOf(err) == orwellerr.Replay {
				metrics.RecordReplayRejection("rejected")
			}
			if orwellerr.KindOf(err).Fatal() {
				return err
			}
			continue // non-fatal (auth/policy) failures just drop the offending packet
		}

		if err := s.dispatch(connID, conn, st, pkt); err != nil {
			if orwellerr.KindOf(err).Fatal() {
				return err
			}
		}
	}
}

// makeResolver builds the SigPKResolver for conn: PreLogin is
// self-certifying (the presented key is checked against the very
// signature covering this packet), Register/Login are checked against
// whatever key PreLogin captured, and every other packet type is resolved
// against the bound identity once the connection has authenticated (spec
// §4.5 "Unauthenticated packets other than the handshake trio are
// rejected").
func (s *ServerState) makeResolver(conn *connection.Conn, st *connState) connection.SigPKResolver {
	return func(pt wire.PacketType, raw []byte) ([]byte, error) {
		switch pt {
		case wire.ClientPreLogin:
			var msg wire.PreLoginMsg
			if err := wire.Unmarshal(raw, &msg); err != nil {
				return nil, orwellerr.New(orwellerr.Protocol, "server.resolver", err)
			}
			return msg.SigPublicKey, nil

		case wire.ClientRegister, wire.ClientLogin:
			if st.presentedSigPK == nil {
				return nil, orwellerr.Wrap(orwellerr.Protocol, "server.resolver", "%s without a prior PreLogin", pt)
			}
			return st.presentedSigPK, nil

		default:
			id := conn.IdentityID()
			if id == "" {
				return nil, orwellerr.Wrap(orwellerr.Protocol, "server.resolver", "packet %s rejected before binding", pt)
			}
			ident, ok := s.Identities.Get(id)
			if !ok {
				return nil, orwellerr.Wrap(orwellerr.Protocol, "server.resolver", "bound identity %s vanished", id)
			}
			return ident.SigPK, nil
		}
	}
}

// dispatch routes one validated packet to its handler and replies or acts
// on the result.
func (s *ServerState) dispatch(connID string, conn *connection.Conn, st *connState, pkt *envelope.Packet) error {
	switch pkt.Type {
	case wire.ClientHeartbeat:
		return nil

	case wire.ClientPreLogin:
		var msg wire.PreLoginMsg
		if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		resp, err := s.handlePreLogin(connID, &msg, st)
		if err != nil {
			return err
		}
		payload, err := wire.Marshal(resp)
		if err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		return conn.Send(wire.ServerPreLogin, payload)

	case wire.ClientRegister:
		if conn.Phase() == connection.PhaseBound {
			return orwellerr.Wrap(orwellerr.Protocol, "server.dispatch", "Register on an already-bound connection")
		}
		var msg wire.RegisterMsg
		if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		var resp *wire.RegisterResponseMsg
		if !bytes.Equal(msg.SigPublicKey, st.presentedSigPK) {
			resp = &wire.RegisterResponseMsg{Success: false, Message: "signing key does not match PreLogin"}
		} else {
			resp = s.handleRegister(&msg)
		}
		payload, err := wire.Marshal(resp)
		if err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		if err := conn.Send(wire.ServerRegisterResponse, payload); err != nil {
			return err
		}
		metrics.RecordAuthAttempt("register", resp.Success)
		if resp.Success {
			ident, ok := s.Identities.Get(resp.ID)
			if ok {
				s.bind(connID, conn, ident)
			}
		}
		return nil

	case wire.ClientLogin:
		if conn.Phase() == connection.PhaseBound {
			return orwellerr.Wrap(orwellerr.Protocol, "server.dispatch", "Login on an already-bound connection")
		}
		var msg wire.LoginMsg
		if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		resp, ident, err := s.handleLogin(connID, &msg, st)
		if err != nil {
			return err
		}
		payload, err := wire.Marshal(resp)
		if err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		if err := conn.Send(wire.ServerLoginResponse, payload); err != nil {
			return err
		}
		metrics.RecordAuthAttempt("login", resp.Success)
		if resp.Success && ident != nil {
			s.bind(connID, conn, ident)
		}
		return nil

	case wire.ClientMessage:
		ident, err := s.requireBound(conn)
		if err != nil {
			return err
		}
		var msg wire.MessageMsg
		if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		return s.handleMessage(ident, &msg)

	case wire.ClientChangeColor:
		ident, err := s.requireBound(conn)
		if err != nil {
			return err
		}
		var msg wire.ChangeColorMsg
		if err := wire.Unmarshal(pkt.Payload, &msg); err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		resp := s.handleChangeColor(ident, &msg)
		payload, err := wire.Marshal(resp)
		if err != nil {
			return orwellerr.New(orwellerr.Protocol, "server.dispatch", err)
		}
		if err := conn.Send(wire.ServerChangeColorResponse, payload); err != nil {
			return err
		}
		if resp.Success {
			if entry, ok := s.Roster.Get(ident.ID); ok {
				s.broadcastClientInfo(entry, wire.ChangeColor)
			}
			return s.broadcastEvent(ident.ID, ident.Name, ident.Colour, wire.ChangeColor, nil)
		}
		return nil

	case wire.ClientAfk:
		ident, err := s.requireBound(conn)
		if err != nil {
			return err
		}
		entry, ok := s.Roster.Get(ident.ID)
		if !ok {
			return orwellerr.Wrap(orwellerr.Protocol, "server.dispatch", "afk toggle for unknown roster member")
		}
		goingAfk := entry.Status != wire.Afk
		if err := s.Roster.SetAfk(ident.ID, goingAfk); err != nil {
			return err
		}
		eventType := wire.EnterAfk
		if !goingAfk {
			eventType = wire.LeftAfk
		}
		if entry, ok := s.Roster.Get(ident.ID); ok {
			s.broadcastClientInfo(entry, eventType)
		}
		return s.broadcastEvent(ident.ID, ident.Name, ident.Colour, eventType, nil)

	default:
		return orwellerr.Wrap(orwellerr.Protocol, "server.dispatch", "unexpected packet type %s", pkt.Type)
	}
}

// requireBound rejects any Message/ChangeColor/Afk packet arriving before
// the connection has bound an identity (spec §4.5 "Bound: accepts
// Message, ChangeColor, Afk, Heartbeat").
func (s *ServerState) requireBound(conn *connection.Conn) (*identity.Identity, error) {
	id := conn.IdentityID()
	if id == "" {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "server.requireBound", "packet requires a bound connection")
	}
	ident, ok := s.Identities.Get(id)
	if !ok {
		return nil, orwellerr.Wrap(orwellerr.Protocol, "server.requireBound", "bound identity vanished")
	}
	return ident, nil
}

// bind transitions conn to Bound: records the identity, joins the roster,
// sends the roster snapshot and history backlog, and announces the join to
// every other online peer (spec §4.5 "Bound").
func (s *ServerState) bind(connID string, conn *connection.Conn, ident *identity.Identity) {
	conn.Bind(ident.ID, ident.SigPK)
	s.Roster.Bind(ident)

	s.sendRosterSnapshot(connID)

	if hist, err := s.replayHistory(ident.ID); err == nil {
		if payload, err := wire.Marshal(hist); err == nil {
			_ = conn.Send(wire.ServerHistoryMessage, payload)
		}
	}

	if entry, ok := s.Roster.Get(ident.ID); ok {
		s.broadcastClientInfo(entry, wire.Login)
	}
	_ = s.broadcastEvent(ident.ID, ident.Name, ident.Colour, wire.Login, nil)
	metrics.RosterSize.Set(float64(len(s.Roster.Online())))
}

// cleanup runs on connection teardown: unbind from the roster, announce
// departure, and drop the connection registry entry (spec §4.5 "Close /
// error").
func (s *ServerState) cleanup(conn *connection.Conn) {
	s.Tokens.Cancel(conn.ID)
	id := conn.IdentityID()
	if id != "" {
		s.Roster.Unbind(id)
		if entry, ok := s.Roster.Get(id); ok {
			s.broadcastClientInfo(entry, wire.Logout)
		}
		if ident, ok := s.Identities.Get(id); ok {
			_ = s.broadcastEvent(id, ident.Name, ident.Colour, wire.Logout, nil)
		}
	}
	s.unregisterConn(conn.ID)
	_ = conn.Close()
	metrics.RosterSize.Set(float64(len(s.Roster.Online())))
}
