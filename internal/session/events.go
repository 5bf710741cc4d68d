package session

import "time"

// DecryptFailedText replaces messages that could not be decrypted. It is shown
// as plain text and never interpreted.
const DecryptFailedText = "Unable to decrypt message"

// Event is something the user interface should render.
type Event interface {
	isUIEvent()
}

// EventConnected is emitted once the session has joined its room.
type EventConnected struct {
	Room     string
	Username string
}

// EventTyping shows that Username is typing. It repeats while the peer keeps
// typing.
type EventTyping struct {
	Username string
}

// EventTypingCleared hides Username's typing indicator.
type EventTypingCleared struct {
	Username string
}

// EventMessage is a chat message in arrival order. When Decrypted is false
// Text is DecryptFailedText.
type EventMessage struct {
	Username   string
	Text       string
	IsOwn      bool
	Decrypted  bool
	ReceivedAt time.Time
}

// EventJoinFailed reports a join attempt that never opened a transport. The
// session is Disconnected and Join may be retried.
type EventJoinFailed struct {
	Err error
}

// EventNotice is a non-fatal problem worth showing to the user.
type EventNotice struct {
	Text string
	Err  error
}

// EventClosed is the last event of a session.
type EventClosed struct {
	Reason string
	Err    error
}

func (EventConnected) isUIEvent()     {}
func (EventTyping) isUIEvent()        {}
func (EventTypingCleared) isUIEvent() {}
func (EventMessage) isUIEvent()       {}
func (EventJoinFailed) isUIEvent()    {}
func (EventNotice) isUIEvent()        {}
func (EventClosed) isUIEvent()        {}
