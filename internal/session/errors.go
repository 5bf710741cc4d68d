package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by sends outside the Connected state.
	ErrNotConnected = errors.New("session is not connected")
	// ErrAlreadyJoined is returned by Join while a join is running or done.
	ErrAlreadyJoined = errors.New("session already joined")
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrEncryptionInit is returned when the room key cannot be prepared.
	ErrEncryptionInit = errors.New("encryption initialization failed")
	// ErrEncryptionFailed is returned when an outgoing message cannot be
	// sealed.
	ErrEncryptionFailed = errors.New("message encryption failed")
	// ErrInvalidName is returned for usernames outside the allowed alphabet.
	ErrInvalidName = errors.New("invalid name")
)

// CredentialError means the relay rejected the room name or password.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("room registration: %v", e.Err) }

func (e *CredentialError) Unwrap() error { return e.Err }

// TransportError means the connection to the relay failed or ended.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
