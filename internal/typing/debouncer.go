// Package typing decides when to tell a room that the local user is typing.
package typing

import (
	"context"
	"sync"
	"time"
)

const (
	// RemoteExpiry is how long a peer's typing indicator stays visible after
	// their last typing envelope.
	RemoteExpiry = time.Second

	// LocalLapse is how long local input may pause before the user is
	// considered idle again.
	LocalLapse = 1500 * time.Millisecond
)

// Sender transmits one typing envelope.
type Sender interface {
	SendTyping(ctx context.Context) error
}

// Debouncer turns local input activity into typing envelopes.
//
// Every NotifyLocalTyping sends an envelope unless WithMinInterval is set; the
// relay and peers therefore see one envelope per input change.
type Debouncer struct {
	sender      Sender
	lapse       time.Duration
	minInterval time.Duration
	onLapse     func()
	now         func() time.Time

	mu       sync.Mutex
	timer    *time.Timer
	lastSent time.Time
	stopped  bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithLapse overrides LocalLapse.
func WithLapse(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.lapse = d
		}
	}
}

// WithMinInterval suppresses envelopes sent less than d after the previous
// one. Zero, the default, sends on every call.
func WithMinInterval(d time.Duration) Option {
	return func(db *Debouncer) { db.minInterval = d }
}

// WithOnLapse registers fn to run when local input has been idle for the lapse
// window.
func WithOnLapse(fn func()) Option {
	return func(db *Debouncer) { db.onLapse = fn }
}

// New returns a Debouncer writing through sender.
func New(sender Sender, opts ...Option) *Debouncer {
	db := &Debouncer{
		sender: sender,
		lapse:  LocalLapse,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// NotifyLocalTyping records a local input change: it restarts the lapse
// countdown and sends a typing envelope.
func (db *Debouncer) NotifyLocalTyping(ctx context.Context) error {
	db.mu.Lock()
	if db.stopped {
		db.mu.Unlock()
		return nil
	}
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.lapse, db.lapsed)

	now := db.now()
	if db.minInterval > 0 && !db.lastSent.IsZero() && now.Sub(db.lastSent) < db.minInterval {
		db.mu.Unlock()
		return nil
	}
	db.lastSent = now
	db.mu.Unlock()

	return db.sender.SendTyping(ctx)
}

func (db *Debouncer) lapsed() {
	db.mu.Lock()
	if db.stopped {
		db.mu.Unlock()
		return
	}
	db.timer = nil
	fn := db.onLapse
	db.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Stop cancels the pending countdown. Later calls to NotifyLocalTyping are
// ignored.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stopped = true
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
