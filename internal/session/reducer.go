package session

import (
	"errors"
	"strings"
	"time"

	"github.com/nthnn/oniontalk/internal/actor"
	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/typing"
)

const typingTimerPrefix = "typing:"

// Reduce is the session state machine. It is pure: all I/O is described by
// the returned effects.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdJoin:
		return reduceJoin(state, in)
	case cmdSendMessage:
		return reduceSendMessage(state, in)
	case cmdSendTyping:
		return reduceSendTyping(state, in)
	case cmdClose:
		return reduceClose(state, in)
	case evJoinFailed:
		return reduceJoinFailed(state, in)
	case evTransportOpened:
		return reduceTransportOpened(state, in)
	case evTransportClosed:
		return reduceTransportClosed(state, in)
	case evFrameReceived:
		return reduceFrame(state, in)
	case evMessageDecrypted:
		return reduceDecrypted(state, in)
	case evSendFailed:
		return reduceSendFailed(state, in)
	case evTimerFired:
		return reduceTimer(state, in)
	default:
		return state, nil
	}
}

func reduceJoin(state State, cmd cmdJoin) (State, []actor.Effect) {
	switch state.FSM {
	case StateClosed:
		return state, []actor.Effect{effCompleteReply{Reply: cmd.Reply, Err: ErrSessionClosed}}
	case StateJoining, StateConnected:
		return state, []actor.Effect{effCompleteReply{Reply: cmd.Reply, Err: ErrAlreadyJoined}}
	}

	state.Gen++
	state.FSM = StateJoining
	state.Room = cmd.Cred.Room
	state.Username = cmd.Username
	state.PendingJoinReply = cmd.Reply
	state.CloseReason = ""
	return state, []actor.Effect{effEstablish{Ctx: cmd.Ctx, Gen: state.Gen, Cred: cmd.Cred}}
}

func reduceJoinFailed(state State, ev evJoinFailed) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateJoining {
		return state, nil
	}

	reply := state.PendingJoinReply
	state.FSM = StateDisconnected
	state.PendingJoinReply = nil
	state.Room = ""
	state.Username = ""
	return state, []actor.Effect{
		effDiscardKey{},
		effNotify{Event: EventJoinFailed{Err: ev.Err}},
		effCompleteReply{Reply: reply, Err: ev.Err},
	}
}

func reduceTransportOpened(state State, ev evTransportOpened) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateJoining {
		return state, nil
	}

	reply := state.PendingJoinReply
	state.FSM = StateConnected
	state.PendingJoinReply = nil
	return state, []actor.Effect{
		effSendEnvelope{Gen: state.Gen, Envelope: wire.Join(state.Username, state.Room)},
		effNotify{Event: EventConnected{Room: state.Room, Username: state.Username}},
		effCompleteReply{Reply: reply},
	}
}

func reduceTransportClosed(state State, ev evTransportClosed) (State, []actor.Effect) {
	if ev.Gen != state.Gen {
		return state, nil
	}
	if state.FSM != StateJoining && state.FSM != StateConnected {
		return state, nil
	}
	reason := "connection closed"
	if state.FSM == StateJoining {
		reason = "connection failed"
	}
	return closeWith(state, reason, ev.Err)
}

func reduceClose(state State, cmd cmdClose) (State, []actor.Effect) {
	if state.FSM == StateClosed {
		return state, []actor.Effect{effCompleteReply{Reply: cmd.Reply}}
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "closed"
	}
	next, effects := closeWith(state, reason, nil)
	return next, append(effects, effCompleteReply{Reply: cmd.Reply})
}

// closeWith moves to Closed and releases everything the session owns.
func closeWith(state State, reason string, err error) (State, []actor.Effect) {
	effects := []actor.Effect{
		effCancelTimers{},
		effCloseTransport{},
		effDiscardKey{},
	}
	if state.PendingJoinReply != nil {
		joinErr := err
		if joinErr == nil {
			joinErr = ErrSessionClosed
		}
		effects = append(effects, effCompleteReply{Reply: state.PendingJoinReply, Err: joinErr})
	}
	effects = append(effects,
		effNotify{Event: EventClosed{Reason: reason, Err: err}},
		effEndEvents{},
	)

	state.FSM = StateClosed
	state.PendingJoinReply = nil
	state.Typing = nil
	state.CloseReason = reason
	return state, effects
}

func reduceSendMessage(state State, cmd cmdSendMessage) (State, []actor.Effect) {
	if state.FSM != StateConnected {
		return state, []actor.Effect{effCompleteReply{Reply: cmd.Reply, Err: notConnected(state)}}
	}
	if cmd.Text == "" {
		return state, []actor.Effect{effCompleteReply{Reply: cmd.Reply}}
	}
	return state, []actor.Effect{effSendMessage{
		Gen:      state.Gen,
		Username: state.Username,
		Room:     state.Room,
		Text:     cmd.Text,
		Reply:    cmd.Reply,
	}}
}

func reduceSendTyping(state State, cmd cmdSendTyping) (State, []actor.Effect) {
	if state.FSM != StateConnected {
		return state, []actor.Effect{effCompleteReply{Reply: cmd.Reply, Err: notConnected(state)}}
	}
	return state, []actor.Effect{effSendEnvelope{
		Gen:      state.Gen,
		Envelope: wire.Typing(state.Username, state.Room),
		Reply:    cmd.Reply,
	}}
}

func notConnected(state State) error {
	if state.FSM == StateClosed {
		return ErrSessionClosed
	}
	return ErrNotConnected
}

func reduceSendFailed(state State, ev evSendFailed) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateConnected {
		return state, nil
	}
	return state, []actor.Effect{effNotify{Event: EventNotice{Text: ErrEncryptionFailed.Error(), Err: ev.Err}}}
}

func reduceFrame(state State, ev evFrameReceived) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateConnected {
		return state, nil
	}

	env, ok, err := wire.Decode(ev.Raw)
	if err != nil {
		state.DroppedFrames++
		return state, nil
	}
	if !ok {
		return state, nil
	}

	switch env.Type {
	case wire.KindTyping:
		if env.Username == state.Username {
			return state, nil
		}
		state.TimerSeq++
		state.Typing = withTyping(state.Typing, env.Username, state.TimerSeq)
		return state, []actor.Effect{
			effNotify{Event: EventTyping{Username: env.Username}},
			effStartTimer{
				Name:    typingTimerPrefix + env.Username,
				Token:   state.TimerSeq,
				AfterMs: typing.RemoteExpiry.Milliseconds(),
			},
		}
	case wire.KindMessage:
		ct, _ := env.Ciphertext()
		return state, []actor.Effect{effDecrypt{
			Gen:        state.Gen,
			Sender:     env.Username,
			Ciphertext: ct,
			AtMs:       ev.AtMs,
		}}
	default:
		return state, nil
	}
}

func reduceDecrypted(state State, ev evMessageDecrypted) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateConnected {
		return state, nil
	}

	msg := EventMessage{
		Username:   ev.Sender,
		Text:       ev.Text,
		IsOwn:      ev.Sender == state.Username,
		Decrypted:  true,
		ReceivedAt: time.UnixMilli(ev.AtMs),
	}
	if ev.Err != nil {
		msg.Text = DecryptFailedText
		msg.Decrypted = false
	}
	return state, []actor.Effect{effNotify{Event: msg}}
}

func reduceTimer(state State, ev evTimerFired) (State, []actor.Effect) {
	user, ok := strings.CutPrefix(ev.Name, typingTimerPrefix)
	if !ok || state.FSM != StateConnected {
		return state, nil
	}
	if token, shown := state.Typing[user]; !shown || token != ev.Token {
		return state, nil
	}
	state.Typing = withTyping(state.Typing, user, 0)
	return state, []actor.Effect{effNotify{Event: EventTypingCleared{Username: user}}}
}

// withTyping returns a copy of set with user mapped to token, or removed when
// token is zero.
func withTyping(set map[string]int64, user string, token int64) map[string]int64 {
	next := make(map[string]int64, len(set)+1)
	for k, v := range set {
		next[k] = v
	}
	if token != 0 {
		next[user] = token
	} else {
		delete(next, user)
	}
	return next
}

// IsCredentialError reports whether err came from the relay rejecting the
// room credentials.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
