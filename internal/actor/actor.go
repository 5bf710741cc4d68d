// Package actor runs a single-goroutine event loop around a pure reducer.
//
// One goroutine owns the state. Callers and the runtime communicate with it
// only through inputs; the reducer answers each input with a new state and a
// list of declarative effects, which the Runtime then executes.
package actor

import (
	"context"
	"errors"
	"sync"
)

// Input is anything delivered to an actor: a command from a caller or an event
// observed by the runtime.
type Input interface {
	isActorInput()
}

// Effect is a side-effect requested by a reducer. Effects are data; the
// Runtime gives them meaning.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function. It must not perform I/O,
// start goroutines or read clocks; timestamps arrive inside inputs.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime executes effects and reports outcomes back as inputs.
type Runtime interface {
	// HandleEffects runs on the actor goroutine, so blocking work must be
	// moved to goroutines. emit never blocks and never drops; inputs passed
	// to it are reduced before anything still waiting in the mailbox.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called more than once.
	Stop()
}

// Hooks observe the loop. All hooks run on the actor goroutine.
type Hooks[S any] struct {
	OnInput      func(input Input)
	OnTransition func(prev S, next S, input Input)
	OnEffects    func(effects []Effect)
	// OnPanic recovers a panicking loop. Nil lets the panic crash the process.
	OnPanic func(recovered any)
}

// ErrStopped is returned when an input is offered to a stopped actor.
var ErrStopped = errors.New("actor stopped")

const defaultMailboxSize = 256

// Actor owns a value of type S and serializes every change to it.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu    sync.Mutex
	state S

	inbox chan Input

	// emitted holds inputs produced by the runtime. It is unbounded and
	// drained ahead of inbox.
	emitMu  sync.Mutex
	emitted []Input
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches observability hooks.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the caller mailbox capacity.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New returns an actor that has not been started.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, defaultMailboxSize),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the loop. Later calls do nothing.
func (a *Actor[S]) Start() {
	a.start.Do(func() { go a.loop() })
}

// Stop cancels the loop and stops the runtime. Safe to call repeatedly.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done is closed when the loop has exited.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue offers input to the mailbox without blocking. It reports false if
// the actor is stopped or the mailbox is full.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil || a.ctx.Err() != nil {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// EnqueueContext delivers input, waiting for mailbox space until ctx ends or
// the actor stops.
func (a *Actor[S]) EnqueueContext(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current state.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) emit(in Input) {
	if in == nil || a.ctx.Err() != nil {
		return
	}
	a.emitMu.Lock()
	a.emitted = append(a.emitted, in)
	a.emitMu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Actor[S]) popEmitted() (Input, bool) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if len(a.emitted) == 0 {
		return nil, false
	}
	in := a.emitted[0]
	a.emitted[0] = nil
	a.emitted = a.emitted[1:]
	return in, true
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	for {
		if a.ctx.Err() != nil {
			return
		}
		if in, ok := a.popEmitted(); ok {
			a.step(in)
			continue
		}
		select {
		case <-a.ctx.Done():
			return
		case <-a.wake:
		case in := <-a.inbox:
			a.step(in)
		}
	}
}

func (a *Actor[S]) step(in Input) {
	if in == nil {
		return
	}
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, a.emit)
	}
}
