// Package crypto implements the room key schedule and the per-message AEAD.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
)

// KeySize is the length of a room key in bytes.
const KeySize = 32

// ErrKeyNotSerializable is returned when something tries to marshal a key.
var ErrKeyNotSerializable = errors.New("session key cannot be serialized")

// SessionKey is the AES-256-GCM key shared by everyone who knows a room's
// name and password. The zero value is an unusable key.
//
// Formatting a SessionKey never reveals its bytes.
type SessionKey struct {
	raw  [KeySize]byte
	aead cipher.AEAD
}

// DeriveKey hashes room and password with SHA-256 and imports the digest as
// an AES-256-GCM key.
//
// The two strings are concatenated with no separator, so ("ab", "cpassword")
// and ("abc", "password") yield the same key. Existing rooms depend on this
// derivation; changing it partitions every client already in the field.
func DeriveKey(room, password string) (SessionKey, error) {
	h := sha256.New()
	h.Write([]byte(room))
	h.Write([]byte(password))

	var k SessionKey
	h.Sum(k.raw[:0])

	block, err := aes.NewCipher(k.raw[:])
	if err != nil {
		k.Wipe()
		return SessionKey{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		k.Wipe()
		return SessionKey{}, fmt.Errorf("failed to create GCM: %w", err)
	}
	k.aead = gcm
	return k, nil
}

// Valid reports whether k can encrypt and decrypt.
func (k SessionKey) Valid() bool { return k.aead != nil }

// Equal compares two keys in constant time.
func (k SessionKey) Equal(other SessionKey) bool {
	return subtle.ConstantTimeCompare(k.raw[:], other.raw[:]) == 1
}

// Wipe zeroes the key material and drops the cipher.
func (k *SessionKey) Wipe() {
	for i := range k.raw {
		k.raw[i] = 0
	}
	k.aead = nil
}

// String implements fmt.Stringer.
func (k SessionKey) String() string { return "SessionKey(redacted)" }

// GoString implements fmt.GoStringer.
func (k SessionKey) GoString() string { return k.String() }

// MarshalJSON refuses to encode the key.
func (k SessionKey) MarshalJSON() ([]byte, error) { return nil, ErrKeyNotSerializable }

// MarshalText refuses to encode the key.
func (k SessionKey) MarshalText() ([]byte, error) { return nil, ErrKeyNotSerializable }
