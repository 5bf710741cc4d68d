// Package wire defines the JSON frames exchanged with the relay and the HTTP
// bodies used to register rooms.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nthnn/oniontalk/internal/crypto"
)

// Kind discriminates envelopes on the wire.
type Kind string

const (
	KindJoin    Kind = "join"
	KindTyping  Kind = "typing"
	KindMessage Kind = "message"
)

// ErrMissingContent is returned for message envelopes without a payload.
var ErrMissingContent = errors.New("message envelope has no content")

// Content is the encrypted payload of a message envelope.
type Content struct {
	Encrypted Octets `json:"encrypted"`
	IV        Octets `json:"iv"`
}

// Envelope is one frame. Content is set only for KindMessage.
//
// Username travels in cleartext and is not authenticated by the cipher.
type Envelope struct {
	Type     Kind     `json:"type"`
	Username string   `json:"username"`
	Content  *Content `json:"content,omitempty"`
	Room     string   `json:"room"`
}

// Join announces username in room. It must be the first frame on a
// connection.
func Join(username, room string) Envelope {
	return Envelope{Type: KindJoin, Username: username, Room: room}
}

// Typing tells the room that username is composing.
func Typing(username, room string) Envelope {
	return Envelope{Type: KindTyping, Username: username, Room: room}
}

// Message carries one encrypted chat message.
func Message(username, room string, ct crypto.Ciphertext) Envelope {
	return Envelope{
		Type:     KindMessage,
		Username: username,
		Room:     room,
		Content:  &Content{Encrypted: Octets(ct.Bytes), IV: Octets(ct.Nonce)},
	}
}

// Ciphertext returns the sealed payload of a message envelope.
func (e Envelope) Ciphertext() (crypto.Ciphertext, bool) {
	if e.Type != KindMessage || e.Content == nil {
		return crypto.Ciphertext{}, false
	}
	return crypto.Ciphertext{
		Bytes: []byte(e.Content.Encrypted),
		Nonce: []byte(e.Content.IV),
	}, true
}

// Encode serializes env. Join and typing envelopes never carry content.
func Encode(env Envelope) ([]byte, error) {
	switch env.Type {
	case KindJoin, KindTyping:
		env.Content = nil
	case KindMessage:
		if env.Content == nil {
			return nil, ErrMissingContent
		}
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return json.Marshal(env)
}

// Decode parses a frame. ok is false, with a nil error, for envelope types
// this client does not understand; such frames are meant to be ignored.
func Decode(raw []byte) (Envelope, bool, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindJoin, KindTyping:
		// Some relays serialize an empty content object on every frame.
		env.Content = nil
		return env, true, nil
	case KindMessage:
		if env.Content == nil {
			return Envelope{}, false, ErrMissingContent
		}
		return env, true, nil
	default:
		return Envelope{}, false, nil
	}
}
