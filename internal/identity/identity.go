// Package identity holds registered client identities and the per-connection
// login-challenge token manager (spec §3 "Identity", §4.6).
package identity

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samyycX/orwell/internal/orwellerr"
)

// Identity is a client's long-term record (spec §3, supplemented by the
// original implementation's clients_ table with online_time and colour).
type Identity struct {
	ID         string
	Name       string
	KEMPK      []byte
	SigPK      []byte
	Colour     uint32
	OnlineTime int64 // unix ms of last known online transition
}

// maxColourRetries bounds the uniqueness-retry loop for colour assignment
// (spec §4.6: "on collision, retry with a new random value up to a small
// bound before failing registration").
const maxColourRetries = 16

// Store keeps registered identities, enforcing name and colour uniqueness
// (spec invariants 5 and 6). It is one of the locked maps that hang off the
// server's ServerState aggregate (spec §9), not an ambient singleton.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*Identity
	byName    map[string]*Identity
	bySigPK   map[string]*Identity
	byColour  map[uint32]*Identity
}

// NewStore builds an empty identity store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*Identity),
		byName:   make(map[string]*Identity),
		bySigPK:  make(map[string]*Identity),
		byColour: make(map[uint32]*Identity),
	}
}

// Lookup finds an identity by its long-term signing public key, used to
// resolve PreLogin requests (spec §4.5).
func (s *Store) Lookup(sigPK []byte) (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySigPK[string(sigPK)]
	return id, ok
}

// Register inserts a new identity, assigning a UUIDv7 id and a unique
// random 24-bit colour, in a single section under the store's lock so name
// and colour uniqueness are checked atomically (spec §4.6).
func (s *Store) Register(name string, kemPK, sigPK []byte) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, orwellerr.Wrap(orwellerr.Policy, "identity.Register", "name taken")
	}
	if _, exists := s.bySigPK[string(sigPK)]; exists {
		return nil, orwellerr.Wrap(orwellerr.Policy, "identity.Register", "signing key already registered")
	}

	colour, err := s.allocateColourLocked()
	if err != nil {
		return nil, err
	}

	id := &Identity{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Name:       name,
		KEMPK:      kemPK,
		SigPK:      sigPK,
		Colour:     colour,
		OnlineTime: time.Now().UnixMilli(),
	}

	s.byID[id.ID] = id
	s.byName[name] = id
	s.bySigPK[string(sigPK)] = id
	s.byColour[colour] = id

	return id, nil
}

func (s *Store) allocateColourLocked() (uint32, error) {
	for i := 0; i < maxColourRetries; i++ {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return 0, orwellerr.New(orwellerr.Crypto, "identity.allocateColour", err)
		}
		candidate := (uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])) & 0xFFFFFF
		if _, taken := s.byColour[candidate]; !taken {
			return candidate, nil
		}
	}
	return 0, orwellerr.Wrap(orwellerr.Policy, "identity.allocateColour", "exhausted retries finding a unique colour")
}

// ChangeColour reassigns an identity's colour, rejecting collisions (spec
// §4.5 "ChangeColor").
func (s *Store) ChangeColour(id string, colour uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return orwellerr.Wrap(orwellerr.Protocol, "identity.ChangeColour", "unknown identity %s", id)
	}
	if existing, taken := s.byColour[colour]; taken && existing.ID != id {
		return orwellerr.Wrap(orwellerr.Policy, "identity.ChangeColour", "colour collides with another client")
	}

	delete(s.byColour, ident.Colour)
	ident.Colour = colour
	s.byColour[colour] = ident
	return nil
}

// Get returns a copy-free pointer to the identity with the given id.
func (s *Store) Get(id string) (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byID[id]
	return ident, ok
}

// TouchOnlineTime records id's last online transition.
func (s *Store) TouchOnlineTime(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ident, ok := s.byID[id]; ok {
		ident.OnlineTime = time.Now().UnixMilli()
	}
}

func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("identity.Store{%d identities}", len(s.byID))
}
