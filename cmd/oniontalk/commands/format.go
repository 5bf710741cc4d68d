package commands

import (
	"fmt"
	"strings"

	"github.com/nthnn/oniontalk/internal/session"
)

const timeLayout = "15:04:05"

// formatEvent renders ev as one or more output lines. ok is false for events
// that print nothing.
func formatEvent(ev session.Event) (string, bool) {
	switch e := ev.(type) {
	case session.EventConnected:
		return fmt.Sprintf("* joined %s as %s", e.Room, e.Username), true
	case session.EventTyping:
		return fmt.Sprintf("* %s is typing...", e.Username), true
	case session.EventMessage:
		prefix := fmt.Sprintf("[%s] <%s> ", e.ReceivedAt.Format(timeLayout), e.Username)
		text := e.Text
		if !e.Decrypted {
			text = "(" + text + ")"
		}
		indent := "\n" + strings.Repeat(" ", len(prefix))
		return prefix + strings.ReplaceAll(text, "\n", indent), true
	case session.EventJoinFailed:
		return fmt.Sprintf("! join failed: %v", e.Err), true
	case session.EventNotice:
		if e.Err != nil {
			return fmt.Sprintf("! %s: %v", e.Text, e.Err), true
		}
		return "! " + e.Text, true
	case session.EventClosed:
		if e.Err != nil {
			return fmt.Sprintf("* disconnected (%s): %v", e.Reason, e.Err), true
		}
		return fmt.Sprintf("* disconnected (%s)", e.Reason), true
	default:
		return "", false
	}
}
