// Package websocket carries session frames over a gorilla websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/nthnn/oniontalk/internal/session"
	"github.com/nthnn/oniontalk/pkg/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second

	// maxFrameSize bounds a single inbound frame. Message envelopes encode
	// every ciphertext byte as up to four characters.
	maxFrameSize = 1 << 20
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("websocket closed")

// Dialer opens connections to a relay's websocket endpoint.
type Dialer struct {
	url              string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	header           http.Header
}

var _ session.Dialer = (*Dialer)(nil)

// Option configures a Dialer.
type Option func(*Dialer)

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.handshakeTimeout = d }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.writeTimeout = d }
}

// WithPingInterval sets the keepalive period. Zero disables pings and read
// deadlines.
func WithPingInterval(d time.Duration) Option {
	return func(dl *Dialer) { dl.pingInterval = d }
}

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(dl *Dialer) { dl.header = h.Clone() }
}

// NewDialer returns a Dialer for a ws:// or wss:// URL.
func NewDialer(rawURL string, opts ...Option) *Dialer {
	d := &Dialer{
		url:              rawURL,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		pingInterval:     defaultPingInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial implements session.Dialer.
func (d *Dialer) Dial(ctx context.Context, ticket string) (session.Transport, error) {
	c, err := d.DialConn(ctx, ticket)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialConn opens a connection, presenting ticket as a query parameter when it
// is not empty.
func (d *Dialer) DialConn(ctx context.Context, ticket string) (*Conn, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	if ticket != "" {
		q := u.Query()
		q.Set("ticket", ticket)
		u.RawQuery = q.Encode()
	}

	dialer := gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}
	// Tickets are bearer credentials; keep the query out of errors and logs.
	display := u.Scheme + "://" + u.Host + u.Path
	ws, resp, err := dialer.DialContext(ctx, u.String(), d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", display, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", display, err)
	}
	logger.Debugf("websocket: connected to %s", display)
	return newConn(ws, d.writeTimeout, d.pingInterval), nil
}

// Conn is one websocket connection. ReadFrame must not be called
// concurrently with itself; WriteFrame and Close are safe from any goroutine.
type Conn struct {
	ws           *gws.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *gws.Conn, writeTimeout, pingInterval time.Duration) *Conn {
	c := &Conn{ws: ws, writeTimeout: writeTimeout, done: make(chan struct{})}
	ws.SetReadLimit(maxFrameSize)
	if pingInterval > 0 {
		pongWait := 2 * pingInterval
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.pingLoop(pingInterval)
	}
	return c
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(gws.PingMessage, nil, deadline); err != nil {
				logger.Debugf("websocket: ping failed: %v", err)
				return
			}
		}
	}
}

// ReadFrame returns the next text or binary message. Canceling ctx closes the
// connection.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			return nil, err
		}
		if kind == gws.TextMessage || kind == gws.BinaryMessage {
			return data, nil
		}
	}
}

// WriteFrame sends frame as one text message.
func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(gws.TextMessage, frame)
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		_ = c.ws.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
