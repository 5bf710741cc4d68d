package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// NonceSize is the AES-GCM nonce length carried as the envelope's iv.
	NonceSize = 12
	// TagSize is the GCM authentication tag appended to every ciphertext.
	TagSize = 16
)

// ErrDecrypt matches every *DecryptError.
var ErrDecrypt = errors.New("unable to decrypt message")

// ErrInvalidKey is returned when encrypting with a zero or wiped key.
var ErrInvalidKey = errors.New("session key is not initialized")

// DecryptError reports why a ciphertext could not be opened.
type DecryptError struct {
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
	}
	return "decrypt: " + e.Reason
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecrypt) true for any DecryptError.
func (e *DecryptError) Is(target error) bool { return target == ErrDecrypt }

// Ciphertext is one sealed message. Bytes carries the GCM tag at its end.
type Ciphertext struct {
	Bytes []byte
	Nonce []byte
}

// nonceSource is swapped in tests to simulate entropy failure.
var nonceSource io.Reader = rand.Reader

// Encrypt seals plaintext under key with a fresh random nonce. No associated
// data is bound.
func Encrypt(key SessionKey, plaintext string) (Ciphertext, error) {
	if !key.Valid() {
		return Ciphertext{}, ErrInvalidKey
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(nonceSource, nonce); err != nil {
		return Ciphertext{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return Ciphertext{
		Bytes: key.aead.Seal(nil, nonce, []byte(plaintext), nil),
		Nonce: nonce,
	}, nil
}

// Decrypt opens ct with key. Every failure is a *DecryptError. Plaintext that
// is not valid UTF-8 is repaired with U+FFFD rather than rejected.
func Decrypt(key SessionKey, ct Ciphertext) (string, error) {
	if !key.Valid() {
		return "", &DecryptError{Reason: "no key", Err: ErrInvalidKey}
	}
	if len(ct.Nonce) != NonceSize {
		return "", &DecryptError{Reason: fmt.Sprintf("nonce length %d", len(ct.Nonce))}
	}
	if len(ct.Bytes) < TagSize {
		return "", &DecryptError{Reason: "ciphertext too short"}
	}

	plaintext, err := key.aead.Open(nil, ct.Nonce, ct.Bytes, nil)
	if err != nil {
		return "", &DecryptError{Reason: "authentication failed", Err: err}
	}
	return strings.ToValidUTF8(string(plaintext), "\uFFFD"), nil
}
