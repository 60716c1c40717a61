package server

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/samyycX/orwell/internal/connection"
	"github.com/samyycX/orwell/internal/groupmsg"
	"github.com/samyycX/orwell/internal/metrics"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/ratchet"
	"github.com/samyycX/orwell/internal/roster"
	"github.com/samyycX/orwell/internal/wire"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// roll draws a uniform float64 in [0,1) from a CSPRNG, feeding
// ratchet.ShouldStep's Bernoulli trigger (spec §4.3 "on the server only").
func roll() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1 // never trigger a step if entropy is unavailable
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// maybeStepChain opportunistically triggers a ratchet chain step after a
// send, per spec §4.3's server-only Bernoulli trigger.
func (s *ServerState) maybeStepChain(c *connection.Conn) {
	if !ratchet.ShouldStep(roll) {
		return
	}
	if c.SendStep() == nil {
		metrics.RecordRatchetStep("bernoulli")
	}
}

// recipients builds the groupmsg.Recipient list for every online roster
// member except excludeID (spec §4.4 "for each recipient r in the
// roster").
func (s *ServerState) recipients(excludeID string) []groupmsg.Recipient {
	online := s.Roster.Online()
	out := make([]groupmsg.Recipient, 0, len(online))
	for _, ident := range online {
		if ident.ID == excludeID {
			continue
		}
		out = append(out, groupmsg.Recipient{ID: ident.ID, KEMPK: ident.KEMPK})
	}
	return out
}

// broadcastEvent seals a server-originated event (Login, Logout,
// ChangeColor, EnterAfk, LeftAfk) using the same group-message codec as a
// client Text message, then forwards it to every online connection except
// the acting identity (spec §4.4 "Server-originated broadcasts... leaving
// sender identity fields set to the acting client").
func (s *ServerState) broadcastEvent(actingID, actingName string, colour uint32, eventType wire.InnerMsgType, inner []byte) error {
	recips := s.recipients(actingID)
	if len(recips) == 0 {
		return nil
	}

	keys, body, err := groupmsg.Encode(eventType, inner, recips)
	if err != nil {
		return err
	}

	msg := &wire.BroadcastMessageMsg{
		SenderID:   actingID,
		SenderName: actingName,
		Colour:     colour,
		Timestamp:  uint64(nowMs()),
		Keys:       keys,
		Body:       body,
	}
	payload, err := wire.Marshal(msg)
	if err != nil {
		return orwellerr.New(orwellerr.Protocol, "server.broadcastEvent", err)
	}

	for _, r := range recips {
		conn, ok := s.connByIdentity(r.ID)
		if !ok {
			continue
		}
		if err := conn.Send(wire.ServerBroadcastMessage, payload); err != nil {
			continue // best-effort fan-out; a dead peer connection is cleaned up by its own read loop
		}
		s.maybeStepChain(conn)
	}
	return nil
}

// broadcastClientInfo resends one roster entry's presence snapshot to every
// online connection, including the entry's own (spec §4.5 "resend
// roster").
func (s *ServerState) broadcastClientInfo(entry *roster.Entry, eventOf wire.InnerMsgType) {
	msg := &wire.ClientInfoMsg{
		ID:           entry.Identity.ID,
		Name:         entry.Identity.Name,
		Colour:       entry.Identity.Colour,
		Status:       entry.Status,
		KEMPublicKey: entry.Identity.KEMPK,
		EventOf:      int32(eventOf),
	}
	payload, err := wire.Marshal(msg)
	if err != nil {
		return
	}

	s.connMu.RLock()
	conns := make([]*connection.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.RUnlock()

	for _, c := range conns {
		if c.IdentityID() == "" {
			continue
		}
		_ = c.Send(wire.ServerClientInfo, payload)
	}
}

// sendRosterSnapshot sends every roster entry, offline ones included, to a
// newly-bound connection (spec §4.5 "Bound").
func (s *ServerState) sendRosterSnapshot(toConnID string) {
	s.connMu.RLock()
	conn, ok := s.conns[toConnID]
	s.connMu.RUnlock()
	if !ok {
		return
	}

	for _, entry := range s.Roster.Snapshot() {
		msg := &wire.ClientInfoMsg{
			ID:           entry.Identity.ID,
			Name:         entry.Identity.Name,
			Colour:       entry.Identity.Colour,
			Status:       entry.Status,
			KEMPublicKey: entry.Identity.KEMPK,
		}
		payload, err := wire.Marshal(msg)
		if err != nil {
			continue
		}
		_ = conn.Send(wire.ServerClientInfo, payload)
	}
}
