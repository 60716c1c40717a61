// Package groupmsg implements the group message format (spec §4.4): one
// random content key sealed individually to each recipient's Kyber-1024
// public key, with the message body encrypted once under that content key.
package groupmsg

import (
	"crypto/rand"
	"fmt"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/security"
	"github.com/samyycX/orwell/internal/wire"
)

const contentKeySize = 32

// Recipient is one roster member a group message is being sealed to.
type Recipient struct {
	ID    string
	KEMPK []byte
}

// Encode builds the keys[] and body of a group message: plaintext is
// msg_type_byte || payload_bytes (spec §4.4 step 1).
func Encode(msgType wire.InnerMsgType, payload []byte, recipients []Recipient) ([]wire.SealedKey, []byte, error) {
	contentKey := make([]byte, contentKeySize)
	if _, err := rand.Read(contentKey); err != nil {
		return nil, nil, orwellerr.New(orwellerr.Crypto, "groupmsg.Encode", err)
	}

	plaintext := make([]byte, 0, 1+len(payload))
	plaintext = append(plaintext, byte(msgType))
	plaintext = append(plaintext, payload...)

	body, err := security.AEADSeal(contentKey, plaintext)
	if err != nil {
		return nil, nil, orwellerr.New(orwellerr.Crypto, "groupmsg.Encode", err)
	}

	keys := make([]wire.SealedKey, 0, len(recipients))
	for _, r := range recipients {
		sealed, err := security.KEMSeal(r.KEMPK, contentKey)
		if err != nil {
			return nil, nil, orwellerr.New(orwellerr.Crypto, "groupmsg.Encode", fmt.Errorf("seal to %s: %w", r.ID, err))
		}
		keys = append(keys, wire.SealedKey{ReceiverID: r.ID, SealedKey: sealed})
	}

	return keys, body, nil
}

// Decode recovers the inner message type and payload for selfID from a
// group message's keys[] and body (spec §4.4 decoding).
func Decode(selfID string, kemSK []byte, keys []wire.SealedKey, body []byte) (wire.InnerMsgType, []byte, error) {
	var sealedKey []byte
	for _, k := range keys {
		if k.ReceiverID == selfID {
			sealedKey = k.SealedKey
			break
		}
	}
	if sealedKey == nil {
		return 0, nil, orwellerr.Wrap(orwellerr.Protocol, "groupmsg.Decode", "no sealed key for recipient %s", selfID)
	}

	contentKey, err := security.KEMOpen(kemSK, sealedKey)
	if err != nil {
		return 0, nil, orwellerr.New(orwellerr.Crypto, "groupmsg.Decode", err)
	}

	plaintext, err := security.AEADOpen(contentKey, body)
	if err != nil {
		return 0, nil, orwellerr.New(orwellerr.Crypto, "groupmsg.Decode", err)
	}
	if len(plaintext) < 1 {
		return 0, nil, orwellerr.Wrap(orwellerr.Protocol, "groupmsg.Decode", "empty plaintext")
	}

	return wire.InnerMsgType(plaintext[0]), plaintext[1:], nil
}
