package session

import (
	"errors"
	"testing"
	"time"

	"github.com/nthnn/oniontalk/internal/actor"
	"github.com/nthnn/oniontalk/internal/actor/actortest"
	"github.com/nthnn/oniontalk/internal/crypto"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/stretchr/testify/require"
)

func connectedState() State {
	return State{
		FSM:      StateConnected,
		Room:     "team-x",
		Username: "alice#123456",
		Gen:      1,
	}
}

func frame(t *testing.T, env wire.Envelope) []byte {
	t.Helper()
	raw, err := wire.Encode(env)
	require.NoError(t, err)
	return raw
}

func effectsOf[T actor.Effect](effects []actor.Effect) []T {
	var out []T
	for _, eff := range effects {
		if e, ok := eff.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestJoinStartsEstablishing(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	next, effects := actor.Step(State{FSM: StateDisconnected}, cmdJoin{
		Cred:     Credential{Room: "team-x", Password: "hunter2"},
		Username: "alice#123456",
		Reply:    reply,
	}, Reduce)

	require.Equal(t, StateJoining, next.FSM)
	require.Equal(t, int64(1), next.Gen)
	require.Equal(t, "team-x", next.Room)
	require.Equal(t, "alice#123456", next.Username)
	require.NotContains(t, actortest.Pretty(next), "hunter2")
	require.Len(t, effects, 1)
	require.Equal(t, effEstablish{Gen: 1, Cred: Credential{Room: "team-x", Password: "hunter2"}}, effects[0])
}

func TestJoinRejectedOutsideDisconnected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fsm  FSMState
		want error
	}{
		{name: "joining", fsm: StateJoining, want: ErrAlreadyJoined},
		{name: "connected", fsm: StateConnected, want: ErrAlreadyJoined},
		{name: "closed", fsm: StateClosed, want: ErrSessionClosed},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			state := State{FSM: tc.fsm, Gen: 3}
			next, effects := Reduce(state, cmdJoin{Reply: make(chan error, 1)})
			require.Equal(t, state, next)
			replies := effectsOf[effCompleteReply](effects)
			require.Len(t, replies, 1)
			require.ErrorIs(t, replies[0].Err, tc.want)
		})
	}
}

func TestTransportOpenedSendsJoinFirst(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	state := State{FSM: StateJoining, Room: "team-x", Username: "alice#123456", Gen: 2, PendingJoinReply: reply}

	next, effects := Reduce(state, evTransportOpened{Gen: 2})
	require.Equal(t, StateConnected, next.FSM)
	require.Nil(t, next.PendingJoinReply)
	require.Equal(t, effSendEnvelope{Gen: 2, Envelope: wire.Join("alice#123456", "team-x")}, effects[0])
	require.Contains(t, effects, actor.Effect(effNotify{Event: EventConnected{Room: "team-x", Username: "alice#123456"}}))
	require.Contains(t, effects, actor.Effect(effCompleteReply{Reply: reply}))

	stale, effects := Reduce(state, evTransportOpened{Gen: 1})
	require.Equal(t, state, stale)
	require.Empty(t, effects)
}

func TestJoinFailureReturnsToDisconnected(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	state := State{FSM: StateJoining, Room: "team-x", Username: "alice#123456", Gen: 1, PendingJoinReply: reply}
	cause := &CredentialError{Err: errors.New("invalid password")}

	next, effects := Reduce(state, evJoinFailed{Gen: 1, Err: cause})
	require.Equal(t, StateDisconnected, next.FSM)
	require.Empty(t, next.Room)
	require.Empty(t, next.Username)
	require.Len(t, effectsOf[effDiscardKey](effects), 1)
	require.Contains(t, effects, actor.Effect(effNotify{Event: EventJoinFailed{Err: cause}}))
	require.Contains(t, effects, actor.Effect(effCompleteReply{Reply: reply, Err: cause}))

	// A retry starts a new generation.
	retry, _ := Reduce(next, cmdJoin{Cred: Credential{Room: "team-x"}, Username: "alice#1"})
	require.Equal(t, StateJoining, retry.FSM)
	require.Equal(t, int64(2), retry.Gen)
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)

	_, effects := Reduce(connectedState(), cmdSendMessage{Text: "", Reply: reply})
	require.Equal(t, []actor.Effect{effCompleteReply{Reply: reply}}, effects, "empty text is a no-op")

	_, effects = Reduce(connectedState(), cmdSendMessage{Text: "hello", Reply: reply})
	require.Equal(t, []actor.Effect{effSendMessage{
		Gen: 1, Username: "alice#123456", Room: "team-x", Text: "hello", Reply: reply,
	}}, effects)

	_, effects = Reduce(State{FSM: StateDisconnected}, cmdSendMessage{Text: "hello", Reply: reply})
	require.ErrorIs(t, effectsOf[effCompleteReply](effects)[0].Err, ErrNotConnected)

	_, effects = Reduce(State{FSM: StateClosed}, cmdSendTyping{Reply: reply})
	require.ErrorIs(t, effectsOf[effCompleteReply](effects)[0].Err, ErrSessionClosed)
}

func TestSendTypingHasNoThrottle(t *testing.T) {
	t.Parallel()

	state := connectedState()
	for i := 0; i < 3; i++ {
		var effects []actor.Effect
		state, effects = Reduce(state, cmdSendTyping{})
		require.Equal(t, []actor.Effect{effSendEnvelope{Gen: 1, Envelope: wire.Typing("alice#123456", "team-x")}}, effects)
	}
}

func TestRemoteTypingIndicator(t *testing.T) {
	t.Parallel()

	state := connectedState()

	// Own typing echoed by the relay is ignored.
	next, effects := Reduce(state, evFrameReceived{Gen: 1, Raw: frame(t, wire.Typing("alice#123456", "team-x"))})
	require.Empty(t, effects)
	require.Empty(t, next.Typing)

	state, effects = Reduce(state, evFrameReceived{Gen: 1, Raw: frame(t, wire.Typing("bob#654321", "team-x"))})
	require.Equal(t, []actor.Effect{
		effNotify{Event: EventTyping{Username: "bob#654321"}},
		effStartTimer{Name: "typing:bob#654321", Token: 1, AfterMs: 1000},
	}, effects)

	// A refresh restarts the window with a new token.
	state, effects = Reduce(state, evFrameReceived{Gen: 1, Raw: frame(t, wire.Typing("bob#654321", "team-x"))})
	require.Equal(t, int64(2), effectsOf[effStartTimer](effects)[0].Token)

	// The superseded timer is ignored.
	state, effects = Reduce(state, evTimerFired{Name: "typing:bob#654321", Token: 1})
	require.Empty(t, effects)
	require.Contains(t, state.Typing, "bob#654321")

	state, effects = Reduce(state, evTimerFired{Name: "typing:bob#654321", Token: 2})
	require.Equal(t, []actor.Effect{effNotify{Event: EventTypingCleared{Username: "bob#654321"}}}, effects)
	require.Empty(t, state.Typing)
}

func TestTypingSnapshotIsNotMutated(t *testing.T) {
	t.Parallel()

	state, _ := Reduce(connectedState(), evFrameReceived{Gen: 1, Raw: frame(t, wire.Typing("bob#1", "team-x"))})
	snapshot := state.Typing

	_, _ = Reduce(state, evFrameReceived{Gen: 1, Raw: frame(t, wire.Typing("carol#2", "team-x"))})
	require.Len(t, snapshot, 1)
}

func TestMessageFrameRequestsDecryption(t *testing.T) {
	t.Parallel()

	ct := crypto.Ciphertext{Bytes: make([]byte, 20), Nonce: make([]byte, crypto.NonceSize)}
	_, effects := Reduce(connectedState(), evFrameReceived{
		Gen:  1,
		Raw:  frame(t, wire.Message("bob#654321", "team-x", ct)),
		AtMs: 42,
	})
	require.Equal(t, []actor.Effect{effDecrypt{Gen: 1, Sender: "bob#654321", Ciphertext: ct, AtMs: 42}}, effects)
}

func TestUndecodableFramesAreCounted(t *testing.T) {
	t.Parallel()

	state := connectedState()
	state, effects := Reduce(state, evFrameReceived{Gen: 1, Raw: []byte("{not json")})
	require.Empty(t, effects)
	require.Equal(t, 1, state.DroppedFrames)

	state, effects = Reduce(state, evFrameReceived{Gen: 1, Raw: []byte(`{"type":"presence"}`)})
	require.Empty(t, effects)
	require.Equal(t, 1, state.DroppedFrames, "unknown kinds are ignored, not dropped")
}

func TestDecryptedMessages(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_000_000)
	tests := []struct {
		name string
		ev   evMessageDecrypted
		want EventMessage
	}{
		{
			name: "peer",
			ev:   evMessageDecrypted{Gen: 1, Sender: "bob#654321", Text: "hi", AtMs: at.UnixMilli()},
			want: EventMessage{Username: "bob#654321", Text: "hi", Decrypted: true, ReceivedAt: at},
		},
		{
			name: "own echo",
			ev:   evMessageDecrypted{Gen: 1, Sender: "alice#123456", Text: "hi", AtMs: at.UnixMilli()},
			want: EventMessage{Username: "alice#123456", Text: "hi", IsOwn: true, Decrypted: true, ReceivedAt: at},
		},
		{
			name: "wrong key",
			ev:   evMessageDecrypted{Gen: 1, Sender: "mallory#1", Err: crypto.ErrDecrypt, AtMs: at.UnixMilli()},
			want: EventMessage{Username: "mallory#1", Text: DecryptFailedText, ReceivedAt: at},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next, effects := Reduce(connectedState(), tc.ev)
			require.Equal(t, StateConnected, next.FSM)
			require.Equal(t, []actor.Effect{effNotify{Event: tc.want}}, effects)
		})
	}
}

func TestDecryptionAfterCloseIsDiscarded(t *testing.T) {
	t.Parallel()

	state, _ := Reduce(connectedState(), cmdClose{})
	require.Equal(t, StateClosed, state.FSM)

	_, effects := Reduce(state, evMessageDecrypted{Gen: 1, Sender: "bob#1", Text: "late"})
	require.Empty(t, effects)
	_, effects = Reduce(state, evFrameReceived{Gen: 1, Raw: frame(t, wire.Typing("bob#1", "team-x"))})
	require.Empty(t, effects)
}

func TestTransportLossClosesSession(t *testing.T) {
	t.Parallel()

	cause := &TransportError{Err: errors.New("eof")}
	next, effects := Reduce(connectedState(), evTransportClosed{Gen: 1, Err: cause})

	require.Equal(t, StateClosed, next.FSM)
	require.Equal(t, "connection closed", next.CloseReason)
	require.Len(t, effectsOf[effCancelTimers](effects), 1)
	require.Len(t, effectsOf[effCloseTransport](effects), 1)
	require.Len(t, effectsOf[effDiscardKey](effects), 1)
	require.Contains(t, effects, actor.Effect(effNotify{Event: EventClosed{Reason: "connection closed", Err: cause}}))
	require.Equal(t, effEndEvents{}, effects[len(effects)-1])

	// Closed is terminal.
	again, effects := Reduce(next, evTransportClosed{Gen: 1, Err: cause})
	require.Equal(t, next, again)
	require.Empty(t, effects)
}

func TestDialFailureFailsPendingJoin(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	cause := &TransportError{Err: errors.New("refused")}
	state := State{FSM: StateJoining, Gen: 1, PendingJoinReply: reply}

	next, effects := Reduce(state, evTransportClosed{Gen: 1, Err: cause})
	require.Equal(t, StateClosed, next.FSM)
	require.Contains(t, effects, actor.Effect(effCompleteReply{Reply: reply, Err: cause}))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	closed, effects := Reduce(connectedState(), cmdClose{Reply: reply})
	require.Equal(t, StateClosed, closed.FSM)
	require.Equal(t, "closed", closed.CloseReason)
	require.Equal(t, effCompleteReply{Reply: reply}, effects[len(effects)-1])

	again, effects := Reduce(closed, cmdClose{Reply: reply})
	require.Equal(t, closed, again)
	require.Equal(t, []actor.Effect{effCompleteReply{Reply: reply}}, effects)
}

func TestCredentialStringOmitsPassword(t *testing.T) {
	t.Parallel()

	c := Credential{Room: "team-x", Password: "hunter2"}
	require.NotContains(t, c.String(), "hunter2")
	require.NotContains(t, actortest.Pretty(effEstablish{Cred: c}), "hunter2")
}
