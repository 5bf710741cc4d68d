// Package session runs one end-to-end encrypted room conversation.
//
// A Session joins a room in three steps: derive the room key, register the
// room with the relay and open the transport. From then on it encrypts
// outgoing messages, decrypts incoming ones in arrival order and tracks which
// peers are typing. Everything the user should see is published on Events.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nthnn/oniontalk/internal/actor"
	"github.com/nthnn/oniontalk/internal/crypto"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/pkg/logger"
)

const (
	defaultEventBuffer = 256
	closeTimeout       = 2 * time.Second
)

// Session is safe for concurrent use. Sessions share no state with each
// other.
type Session struct {
	actor *actor.Actor[State]
	rt    *Runtime

	discriminator func() (int, error)
}

type options struct {
	clock         actor.Clock
	eventBuffer   int
	mailboxSize   int
	discriminator func() (int, error)
}

// Option configures a Session.
type Option func(*options)

// WithClock sets the clock used to timestamp received messages.
func WithClock(c actor.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithEventBuffer sets how many UI events may queue before the session waits
// for the reader.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithMailboxSize sets how many inbound frames may queue before the session
// stops reading from the transport.
func WithMailboxSize(n int) Option {
	return func(o *options) { o.mailboxSize = n }
}

// WithDiscriminator replaces the random username suffix generator.
func WithDiscriminator(fn func() (int, error)) Option {
	return func(o *options) { o.discriminator = fn }
}

// New returns a started, Disconnected session.
func New(registrar Registrar, dialer Dialer, opts ...Option) *Session {
	o := options{
		eventBuffer:   defaultEventBuffer,
		discriminator: crypto.Discriminator,
	}
	for _, opt := range opts {
		opt(&o)
	}

	rt := NewRuntime(registrar, dialer, o.clock, o.eventBuffer)
	a := actor.New(
		State{FSM: StateDisconnected},
		Reduce,
		rt,
		actor.WithMailboxSize[State](o.mailboxSize),
		actor.WithHooks(actor.Hooks[State]{
			OnTransition: func(prev, next State, in actor.Input) {
				if prev.FSM != next.FSM {
					logger.Debugf("session: %s -> %s (%T)", prev.FSM, next.FSM, in)
				}
			},
		}),
	)
	rt.deliver = a.EnqueueContext
	a.Start()

	return &Session{actor: a, rt: rt, discriminator: o.discriminator}
}

// Join derives the room key, registers the room and connects. username gets a
// "#NNNNNN" suffix so equal names stay distinguishable; see Username.
//
// On a *CredentialError or ErrEncryptionInit the session is Disconnected
// again and Join may be retried. A *TransportError closes the session.
func (s *Session) Join(ctx context.Context, cred Credential, username string) error {
	if !wire.ValidName(username) {
		return fmt.Errorf("%w: username %q", ErrInvalidName, username)
	}
	if !wire.ValidName(cred.Room) {
		return fmt.Errorf("%w: room %q", ErrInvalidName, cred.Room)
	}
	n, err := s.discriminator()
	if err != nil {
		return fmt.Errorf("username suffix: %w", err)
	}

	reply := make(chan error, 1)
	return s.request(ctx, cmdJoin{
		Ctx:      ctx,
		Cred:     cred,
		Username: fmt.Sprintf("%s#%d", username, n),
		Reply:    reply,
	}, reply)
}

// SendMessage encrypts text and sends it to the room. Empty text is ignored.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	reply := make(chan error, 1)
	return s.request(ctx, cmdSendMessage{Text: text, Reply: reply}, reply)
}

// SendTyping tells the room the local user is typing.
func (s *Session) SendTyping(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.request(ctx, cmdSendTyping{Reply: reply}, reply)
}

// Close ends the session, closes the transport and discards the room key.
// It is idempotent.
func (s *Session) Close() error {
	reply := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	err := s.request(ctx, cmdClose{Reason: "closed by user", Reply: reply}, reply)
	if errors.Is(err, ErrSessionClosed) {
		err = nil
	}

	s.actor.Stop()
	<-s.actor.Done()
	s.rt.endEvents()
	return err
}

// Events delivers UI events in order. It is closed after EventClosed; callers
// must keep reading until then.
func (s *Session) Events() <-chan Event { return s.rt.Events() }

// State returns the current lifecycle state.
func (s *Session) State() FSMState { return s.actor.State().FSM }

// Username is the suffixed name used in the current room, or "" before Join.
func (s *Session) Username() string { return s.actor.State().Username }

// Room is the joined room, or "" before Join.
func (s *Session) Room() string { return s.actor.State().Room }

func (s *Session) request(ctx context.Context, in actor.Input, reply chan error) error {
	if err := s.actor.EnqueueContext(ctx, in); err != nil {
		if errors.Is(err, actor.ErrStopped) {
			return ErrSessionClosed
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.actor.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
