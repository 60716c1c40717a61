// Package server implements the server-side connection protocol (spec
// §4.5): a single ServerState aggregate wiring the roster, identity store,
// token manager, history store and connection registry behind locked maps,
// rather than ambient global singletons (spec §9 "Global mutables").
package server

import (
	"sync"

	"github.com/samyycX/orwell/internal/connection"
	"github.com/samyycX/orwell/internal/envelope"
	"github.com/samyycX/orwell/internal/history"
	"github.com/samyycX/orwell/internal/identity"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/roster"
	"github.com/samyycX/orwell/internal/security"
)

// ProtocolVersion is the version PreLogin clients are checked against
// (spec §4.5 "if version != server_version").
const ProtocolVersion uint32 = 1

// HistoryLimit is the number of rows replayed on login (spec §4.5, §4.7:
// "the last N (≈50) ciphertext rows").
const HistoryLimit = 50

// ServerState is the server's whole mutable world, passed by reference to
// every connection goroutine. It owns no package-level state.
type ServerState struct {
	SigSK []byte
	SigPK []byte

	Roster     *roster.Roster
	Identities *identity.Store
	Tokens     *identity.TokenManager
	History    *history.Store
	Replay     *envelope.ReplayCache

	connMu sync.RWMutex
	conns  map[string]*connection.Conn
}

// New builds a ServerState. historyPath is a sqlite DSN (":memory:" or a
// file path) passed straight to history.Open.
func New(historyPath string) (*ServerState, error) {
	sig, err := security.GenerateSigKeyPair()
	if err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "server.New", err)
	}

	hist, err := history.Open(historyPath)
	if err != nil {
		return nil, err
	}

	return &ServerState{
		SigSK:      sig.PrivateKey,
		SigPK:      sig.PublicKey,
		Roster:     roster.New(),
		Identities: identity.NewStore(),
		Tokens:     identity.NewTokenManager(),
		History:    hist,
		Replay:     envelope.NewReplayCache(envelope.FreshnessWindow, 4096),
		conns:      make(map[string]*connection.Conn),
	}, nil
}

// Close releases the history store.
func (s *ServerState) Close() error {
	return s.History.Close()
}

func (s *ServerState) registerConn(c *connection.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[c.ID] = c
}

func (s *ServerState) unregisterConn(connID string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, connID)
}

// connByIdentity finds the live connection bound to an identity id, used
// to fan a broadcast out to online recipients.
func (s *ServerState) connByIdentity(identityID string) (*connection.Conn, bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	for _, c := range s.conns {
		if c.IdentityID() == identityID {
			return c, true
		}
	}
	return nil, false
}
