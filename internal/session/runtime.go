package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nthnn/oniontalk/internal/actor"
	"github.com/nthnn/oniontalk/internal/crypto"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/pkg/logger"
)

// Runtime executes session effects. It owns the room key, the transport and
// the timers; it never touches State and reports back only through inputs.
type Runtime struct {
	registrar Registrar
	dialer    Dialer
	clock     actor.Clock
	events    chan Event

	// deliver hands received frames to the actor, blocking while its mailbox
	// is full. Nil falls back to the emit function.
	deliver func(ctx context.Context, in actor.Input) error

	mu           sync.Mutex
	key          crypto.SessionKey
	conn         Transport
	connGen      int64
	cancelRead   context.CancelFunc
	timers       map[string]actor.Timer
	closed       bool
	eventsClosed bool
}

// NewRuntime returns a Runtime that publishes UI events on a channel with
// room for buffer events.
func NewRuntime(registrar Registrar, dialer Dialer, clock actor.Clock, buffer int) *Runtime {
	if clock == nil {
		clock = actor.RealClock{}
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Runtime{
		registrar: registrar,
		dialer:    dialer,
		clock:     clock,
		events:    make(chan Event, buffer),
		timers:    make(map[string]actor.Timer),
	}
}

// Events is closed after the final EventClosed.
func (r *Runtime) Events() <-chan Event { return r.events }

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		if ctx.Err() != nil {
			return
		}

		switch e := eff.(type) {
		case effEstablish:
			r.establish(ctx, e, emit)
		case effSendEnvelope:
			r.send(ctx, e.Gen, e.Envelope, e.Reply, emit)
		case effSendMessage:
			r.sendMessage(ctx, e, emit)
		case effDecrypt:
			r.decrypt(e, emit)
		case effStartTimer:
			r.startTimer(e, emit)
		case effCancelTimers:
			r.cancelTimers()
		case effNotify:
			r.notify(ctx, e.Event)
		case effCloseTransport:
			r.closeTransport()
		case effDiscardKey:
			r.discardKey()
		case effEndEvents:
			r.endEvents()
		case effCompleteReply:
			complete(e.Reply, e.Err)
		default:
			logger.Warnf("session: unhandled effect %T", eff)
		}
	}
}

// Stop releases the transport, the key and all timers. It does not close the
// events channel; that belongs to the actor goroutine.
func (r *Runtime) Stop() {
	r.closeTransport()
	r.discardKey()
	r.cancelTimers()
}

func (r *Runtime) establish(ctx context.Context, eff effEstablish, emit func(actor.Input)) {
	caller := eff.Ctx
	if caller == nil {
		caller = context.Background()
	}

	go func() {
		conn := r.open(ctx, caller, eff.Gen, eff.Cred, emit)
		if conn == nil {
			return
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = conn.Close()
			return
		}
		readCtx, cancel := context.WithCancel(ctx)
		r.conn = conn
		r.connGen = eff.Gen
		r.cancelRead = cancel
		r.mu.Unlock()

		logger.Debugf("session: transport open for room %q", eff.Cred.Room)
		emit(evTransportOpened{Gen: eff.Gen})
		r.readLoop(readCtx, eff.Gen, conn, emit)
	}()
}

// open derives the key, registers and dials. Registration and dialing end
// with either the session or the caller's Join context. It returns nil after
// emitting the failure.
func (r *Runtime) open(ctx, caller context.Context, gen int64, cred Credential, emit func(actor.Input)) Transport {
	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()

	key, err := crypto.DeriveKey(cred.Room, cred.Password)
	if err != nil {
		emit(evJoinFailed{Gen: gen, Err: fmt.Errorf("%w: %v", ErrEncryptionInit, err)})
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		key.Wipe()
		return nil
	}
	r.key.Wipe()
	r.key = key
	r.mu.Unlock()

	adm, err := r.registrar.Register(joinCtx, cred.Room, cred.Password)
	if cerr := caller.Err(); cerr != nil {
		emit(evJoinFailed{Gen: gen, Err: fmt.Errorf("join abandoned: %w", cerr)})
		return nil
	}
	if err != nil {
		emit(evJoinFailed{Gen: gen, Err: &CredentialError{Err: err}})
		return nil
	}

	conn, err := r.dialer.Dial(joinCtx, adm.Ticket)
	if cerr := caller.Err(); cerr != nil {
		if err == nil {
			_ = conn.Close()
		}
		emit(evJoinFailed{Gen: gen, Err: fmt.Errorf("join abandoned: %w", cerr)})
		return nil
	}
	if err != nil {
		emit(evTransportClosed{Gen: gen, Err: &TransportError{Err: err}})
		return nil
	}
	return conn
}

func (r *Runtime) readLoop(ctx context.Context, gen int64, conn Transport, emit func(actor.Input)) {
	for {
		raw, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(evTransportClosed{Gen: gen, Err: &TransportError{Err: err}})
			return
		}

		in := evFrameReceived{Gen: gen, Raw: raw, AtMs: r.clock.Now().UnixMilli()}
		if r.deliver == nil {
			emit(in)
			continue
		}
		if err := r.deliver(ctx, in); err != nil {
			return
		}
	}
}

func (r *Runtime) transport(gen int64) Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.connGen != gen {
		return nil
	}
	return r.conn
}

func (r *Runtime) send(ctx context.Context, gen int64, env wire.Envelope, reply chan error, emit func(actor.Input)) {
	conn := r.transport(gen)
	if conn == nil {
		complete(reply, ErrNotConnected)
		return
	}

	frame, err := wire.Encode(env)
	if err != nil {
		complete(reply, err)
		return
	}
	if err := conn.WriteFrame(ctx, frame); err != nil {
		terr := &TransportError{Err: err}
		complete(reply, terr)
		emit(evTransportClosed{Gen: gen, Err: terr})
		return
	}
	logger.Tracef("session: sent %s frame", env.Type)
	complete(reply, nil)
}

func (r *Runtime) sendMessage(ctx context.Context, eff effSendMessage, emit func(actor.Input)) {
	r.mu.Lock()
	key := r.key
	r.mu.Unlock()

	ct, err := crypto.Encrypt(key, eff.Text)
	if err != nil {
		complete(eff.Reply, fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
		emit(evSendFailed{Gen: eff.Gen, Err: err})
		return
	}
	r.send(ctx, eff.Gen, wire.Message(eff.Username, eff.Room, ct), eff.Reply, emit)
}

// decrypt runs inline so messages are released in the order they arrived.
func (r *Runtime) decrypt(eff effDecrypt, emit func(actor.Input)) {
	r.mu.Lock()
	key := r.key
	r.mu.Unlock()

	text, err := crypto.Decrypt(key, eff.Ciphertext)
	if err != nil {
		logger.Debugf("session: message from %q not decrypted: %v", eff.Sender, err)
	}
	emit(evMessageDecrypted{
		Gen:    eff.Gen,
		Sender: eff.Sender,
		Text:   text,
		Err:    err,
		AtMs:   eff.AtMs,
	})
}

func (r *Runtime) startTimer(eff effStartTimer, emit func(actor.Input)) {
	name, token := eff.Name, eff.Token

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if prev := r.timers[name]; prev != nil {
		prev.Stop()
	}
	var t actor.Timer
	t = r.clock.AfterFunc(time.Duration(eff.AfterMs)*time.Millisecond, func() {
		r.mu.Lock()
		if r.timers[name] == t {
			delete(r.timers, name)
		}
		r.mu.Unlock()
		emit(evTimerFired{Name: name, Token: token, AtMs: r.clock.Now().UnixMilli()})
	})
	r.timers[name] = t
}

func (r *Runtime) cancelTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
}

func (r *Runtime) notify(ctx context.Context, ev Event) {
	r.mu.Lock()
	done := r.eventsClosed
	r.mu.Unlock()
	if done {
		return
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// closeTransport is permanent: a dial that completes afterwards is closed
// immediately.
func (r *Runtime) closeTransport() {
	r.mu.Lock()
	conn := r.conn
	cancel := r.cancelRead
	r.conn = nil
	r.cancelRead = nil
	r.closed = true
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (r *Runtime) discardKey() {
	r.mu.Lock()
	r.key.Wipe()
	r.mu.Unlock()
}

func (r *Runtime) endEvents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventsClosed {
		return
	}
	r.eventsClosed = true
	close(r.events)
}

func complete(reply chan error, err error) {
	if reply == nil {
		return
	}
	select {
	case reply <- err:
	default:
	}
}
