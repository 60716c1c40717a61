package identity

import (
	"crypto/rand"
	"sync"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
)

// TokenSize is the login-challenge token length (original implementation's
// server/token.rs uses a 128-byte random token, matching the packet salt
// size used elsewhere on the wire).
const TokenSize = 128

// TokenManager issues and validates single-use login tokens, one per
// in-flight connection. A connection receives a token during PreLogin and
// must return it signed by its Dilithium secret key during Login (spec
// §4.6). Validation always consumes the token, whether or not the
// signature checks out, mirroring the original token.rs behaviour so a
// token can never be replayed across multiple login attempts.
type TokenManager struct {
	mu     sync.Mutex
	tokens map[string]pendingToken
}

type pendingToken struct {
	token []byte
	sigPK []byte
}

// NewTokenManager builds an empty token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]pendingToken)}
}

// Issue generates a fresh token for connID, bound to the signing public key
// the client presented at PreLogin, and stores it for later validation.
func (m *TokenManager) Issue(connID string, sigPK []byte) ([]byte, error) {
	token := make([]byte, TokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, orwellerr.New(orwellerr.Crypto, "identity.TokenManager.Issue", err)
	}

	m.mu.Lock()
	m.tokens[connID] = pendingToken{token: token, sigPK: sigPK}
	m.mu.Unlock()

	return token, nil
}

// Validate checks that signature is a valid Dilithium signature over the
// token issued to connID, using the signing public key captured at Issue
// time. The pending entry is removed unconditionally before the signature
// is checked, so a token is single-use regardless of outcome.
func (m *TokenManager) Validate(connID string, signature []byte) (bool, error) {
	m.mu.Lock()
	pending, ok := m.tokens[connID]
	delete(m.tokens, connID)
	m.mu.Unlock()

	if !ok {
		return false, orwellerr.Wrap(orwellerr.Auth, "identity.TokenManager.Validate", "no pending token for connection %s", connID)
	}

	valid, err := security.Verify(pending.sigPK, pending.token, signature)
	if err != nil {
		return false, orwellerr.New(orwellerr.Crypto, "identity.TokenManager.Validate", err)
	}
	return valid, nil
}

// Cancel discards a pending token without validating it, used when a
// connection drops between PreLogin and Login.
func (m *TokenManager) Cancel(connID string) {
	m.mu.Lock()
	delete(m.tokens, connID)
	m.mu.Unlock()
}
