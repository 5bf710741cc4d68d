package wire

import "regexp"

// RoomRequest is the body of POST /create-room and POST /join-room.
type RoomRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// RoomAdmission is returned by a relay that accepted a room request. Ticket
// is optional; when present it must be presented when opening the websocket.
type RoomAdmission struct {
	Ticket string `json:"ticket,omitempty"`
}

// ErrorResponse is the relay's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MaxNameLength bounds room names and usernames.
const MaxNameLength = 50

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidName reports whether s is an acceptable room name or base username.
func ValidName(s string) bool {
	return len(s) > 0 && len(s) <= MaxNameLength && namePattern.MatchString(s)
}
