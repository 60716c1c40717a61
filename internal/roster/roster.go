// Package roster tracks the server's view of registered clients and their
// online status (spec §3 "Roster", §4.5 presence/colour policy), modelled
// on the register/unregister/broadcast pattern of a connection hub.
package roster

import (
	"sync"

	"github.com/samyycX/orwell/internal/identity"
	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/wire"
)

// Status mirrors wire.ClientStatus but keeps the roster package decoupled
// from the wire codec's struct tags.
type Status = wire.ClientStatus

// Entry is one roster member's live presence state, layered on top of the
// long-term identity record.
type Entry struct {
	Identity *identity.Identity
	Status   Status
}

// Roster is the server's locked table of online/offline/afk clients. It is
// a field on the server's aggregate state (spec §9), never an ambient
// singleton.
type Roster struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New builds an empty roster.
func New() *Roster {
	return &Roster{entries: make(map[string]*Entry)}
}

// Bind marks ident online, inserting a roster entry if this is its first
// connection of the session (spec §4.5 "Bound").
func (r *Roster) Bind(ident *identity.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ident.ID] = &Entry{Identity: ident, Status: wire.Online}
}

// Unbind marks a client Offline, used when its connection closes (spec
// §4.5 "Close / error").
func (r *Roster) Unbind(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Status = wire.Offline
	}
}

// SetAfk toggles a bound client between Online and Afk. Offline is
// transport-driven only and is rejected here (spec §4.5 "Afk toggle").
func (r *Roster) SetAfk(id string, afk bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return orwellerr.Wrap(orwellerr.Protocol, "roster.SetAfk", "unknown roster member %s", id)
	}
	if e.Status == wire.Offline {
		return orwellerr.Wrap(orwellerr.Protocol, "roster.SetAfk", "cannot toggle afk on an offline client")
	}
	if afk {
		e.Status = wire.Afk
	} else {
		e.Status = wire.Online
	}
	return nil
}

// Get returns the roster entry for id.
func (r *Roster) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Online returns the identities of every online or afk client, used both to
// build ServerClientInfo snapshots and to select recipients for group
// message fan-out (spec §4.4 "for each recipient r in the roster").
func (r *Roster) Online() []*identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*identity.Identity, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Status != wire.Offline {
			out = append(out, e.Identity)
		}
	}
	return out
}

// Snapshot returns every roster entry known to the server, online or not,
// used to build the full client-info list sent on bind.
func (r *Roster) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
