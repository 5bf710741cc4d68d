package session

import (
	"context"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
)

// Registrar validates, or creates, a room with the relay before the
// transport is opened.
type Registrar interface {
	Register(ctx context.Context, room, password string) (wire.RoomAdmission, error)
}

// Dialer opens the transport to the relay. ticket is the admission ticket
// returned by the Registrar and may be empty.
type Dialer interface {
	Dial(ctx context.Context, ticket string) (Transport, error)
}

// Transport is an ordered, bidirectional frame stream.
//
// ReadFrame is only called from one goroutine, WriteFrame only from another.
// Close unblocks a pending ReadFrame.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}
