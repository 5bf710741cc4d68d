// Package rooms registers rooms with the relay's HTTP API before a session
// opens its websocket.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/session"
)

var (
	// ErrInvalidPassword is the relay's 401: the room exists with another
	// password.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrRoomNotFound is the relay's 404.
	ErrRoomNotFound = errors.New("room not found")
)

// StatusError is any other non-2xx answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("error joining room: status %d", e.Code)
	}
	return fmt.Sprintf("error joining room: status %d: %s", e.Code, e.Message)
}

const defaultTimeout = 15 * time.Second

// Client talks to POST /create-room or POST /join-room.
type Client struct {
	http *resty.Client
	path string
}

var _ session.Registrar = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithJoinOnly makes Register fail with ErrRoomNotFound instead of creating a
// missing room.
func WithJoinOnly() Option {
	return func(c *Client) { c.path = "/join-room" }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// NewClient returns a Client for the relay at baseURL, e.g.
// "https://relay.example".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
		path: "/create-room",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register implements session.Registrar. A 2xx answer admits the caller;
// 401 and 404 map to ErrInvalidPassword and ErrRoomNotFound.
func (c *Client) Register(ctx context.Context, room, password string) (wire.RoomAdmission, error) {
	var adm wire.RoomAdmission
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(wire.RoomRequest{Name: room, Password: password}).
		SetResult(&adm).
		Post(c.path)
	if err != nil {
		return wire.RoomAdmission{}, fmt.Errorf("register room: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		return wire.RoomAdmission{}, ErrInvalidPassword
	case code == http.StatusNotFound:
		return wire.RoomAdmission{}, ErrRoomNotFound
	case code/100 == 2:
		return adm, nil
	default:
		return wire.RoomAdmission{}, &StatusError{Code: code, Message: errorMessage(resp.String())}
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

func errorMessage(body string) string {
	var e wire.ErrorResponse
	if err := json.Unmarshal([]byte(body), &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(body)
}
