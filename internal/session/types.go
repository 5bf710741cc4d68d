package session

import (
	"context"
	"fmt"

	"github.com/nthnn/oniontalk/internal/actor"
	"github.com/nthnn/oniontalk/internal/crypto"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
)

// FSMState is the lifecycle state of a session.
type FSMState string

const (
	// StateDisconnected is the initial state, and the state a failed join
	// returns to.
	StateDisconnected FSMState = "Disconnected"
	// StateJoining covers key derivation, room registration and dialing.
	StateJoining FSMState = "Joining"
	// StateConnected means the join envelope has been queued on an open
	// transport.
	StateConnected FSMState = "Connected"
	// StateClosed is terminal.
	StateClosed FSMState = "Closed"
)

// State is owned by the session actor loop.
type State struct {
	FSM FSMState

	Room     string
	Username string

	// Gen increments with every join attempt. Runtime events carry the
	// generation they belong to so late results of an abandoned attempt are
	// ignored.
	Gen int64

	// PendingJoinReply is completed when the current join attempt connects or
	// fails.
	PendingJoinReply chan error

	// Typing maps each peer whose indicator is shown to the token of its
	// expiry timer. The map is replaced, never mutated, so snapshots stay
	// safe to read.
	Typing map[string]int64

	// TimerSeq issues expiry timer tokens. A timer that fires after being
	// superseded carries an old token and is ignored.
	TimerSeq int64

	// DroppedFrames counts frames that could not be decoded.
	DroppedFrames int

	CloseReason string
}

// Credential is the shared secret of a room. It is only used to derive the
// key and to register the room; it is never kept in State.
type Credential struct {
	Room     string
	Password string `json:"-"`
}

// String omits the password.
func (c Credential) String() string { return fmt.Sprintf("Credential{Room: %q}", c.Room) }

// GoString omits the password.
func (c Credential) GoString() string { return c.String() }

// Inputs.

type command interface {
	actor.Input
	isSessionCommand()
}

type event interface {
	actor.Input
	isSessionEvent()
}

type cmdJoin struct {
	actor.InputBase
	// Ctx bounds registration and dialing. Nil means no caller deadline.
	Ctx      context.Context `json:"-"`
	Cred     Credential
	Username string
	Reply    chan error
}

func (cmdJoin) isSessionCommand() {}

type cmdSendMessage struct {
	actor.InputBase
	Text  string
	Reply chan error
}

func (cmdSendMessage) isSessionCommand() {}

type cmdSendTyping struct {
	actor.InputBase
	Reply chan error
}

func (cmdSendTyping) isSessionCommand() {}

type cmdClose struct {
	actor.InputBase
	Reason string
	Reply  chan error
}

func (cmdClose) isSessionCommand() {}

// evJoinFailed reports a key derivation or room registration failure. No
// transport was opened.
type evJoinFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

func (evJoinFailed) isSessionEvent() {}

type evTransportOpened struct {
	actor.InputBase
	Gen int64
}

func (evTransportOpened) isSessionEvent() {}

// evTransportClosed reports a failed dial, a read or write error, or the
// peer closing the connection.
type evTransportClosed struct {
	actor.InputBase
	Gen int64
	Err error
}

func (evTransportClosed) isSessionEvent() {}

type evFrameReceived struct {
	actor.InputBase
	Gen  int64
	Raw  []byte
	AtMs int64
}

func (evFrameReceived) isSessionEvent() {}

type evMessageDecrypted struct {
	actor.InputBase
	Gen    int64
	Sender string
	Text   string
	Err    error
	AtMs   int64
}

func (evMessageDecrypted) isSessionEvent() {}

type evSendFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

func (evSendFailed) isSessionEvent() {}

type evTimerFired struct {
	actor.InputBase
	Name  string
	Token int64
	AtMs  int64
}

func (evTimerFired) isSessionEvent() {}

// Effects.

type effect interface {
	actor.Effect
	isSessionEffect()
}

// effEstablish derives the key, registers the room and dials, in that order.
type effEstablish struct {
	actor.EffectBase
	Ctx  context.Context `json:"-"`
	Gen  int64
	Cred Credential
}

func (effEstablish) isSessionEffect() {}

type effSendEnvelope struct {
	actor.EffectBase
	Gen      int64
	Envelope wire.Envelope
	Reply    chan error
}

func (effSendEnvelope) isSessionEffect() {}

// effSendMessage encrypts Text with the session key, then writes it as a
// message envelope.
type effSendMessage struct {
	actor.EffectBase
	Gen      int64
	Username string
	Room     string
	Text     string
	Reply    chan error
}

func (effSendMessage) isSessionEffect() {}

type effDecrypt struct {
	actor.EffectBase
	Gen        int64
	Sender     string
	Ciphertext crypto.Ciphertext
	AtMs       int64
}

func (effDecrypt) isSessionEffect() {}

// effStartTimer starts, or restarts, the timer called Name.
type effStartTimer struct {
	actor.EffectBase
	Name    string
	Token   int64
	AfterMs int64
}

func (effStartTimer) isSessionEffect() {}

type effCancelTimers struct {
	actor.EffectBase
}

func (effCancelTimers) isSessionEffect() {}

type effNotify struct {
	actor.EffectBase
	Event Event
}

func (effNotify) isSessionEffect() {}

type effCloseTransport struct {
	actor.EffectBase
}

func (effCloseTransport) isSessionEffect() {}

type effDiscardKey struct {
	actor.EffectBase
}

func (effDiscardKey) isSessionEffect() {}

// effEndEvents closes the events channel. Nothing is notified afterwards.
type effEndEvents struct {
	actor.EffectBase
}

func (effEndEvents) isSessionEffect() {}

type effCompleteReply struct {
	actor.EffectBase
	Reply chan error
	Err   error
}

func (effCompleteReply) isSessionEffect() {}
