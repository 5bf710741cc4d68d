package hub

import (
	"html"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// Client is one websocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// admitted is the room named by the connection's ticket. Empty when
	// the hub does not require tickets.
	admitted string

	mu       sync.Mutex
	room     string
	username string

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, admitted string) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		admitted: admitted,
		done:     make(chan struct{}),
	}
}

func (c *Client) joinedRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) identity() (room, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.username
}

// shutdown asks the write pump to close the connection.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("Connection %s read error: %v", c.id, err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	env, ok, err := wire.Decode(raw)
	if err != nil {
		c.drop("malformed", err.Error())
		return
	}
	if !ok {
		c.drop("unknown_type", "")
		return
	}

	room, username := c.identity()
	if env.Type == wire.KindJoin {
		switch {
		case room != "":
			c.drop("rejoin", env.Room)
		case !wire.ValidName(env.Room):
			c.drop("invalid_room", env.Room)
		case c.admitted != "" && env.Room != c.admitted:
			c.drop("room_mismatch", env.Room)
		case env.Username == "":
			c.drop("invalid_username", "")
		default:
			c.mu.Lock()
			c.room = env.Room
			c.username = html.EscapeString(env.Username)
			c.mu.Unlock()
			c.hub.join(c, env.Room)
			logger.Debugf("Connection %s joined %s", c.id, env.Room)
		}
		return
	}

	if room == "" {
		c.drop("not_joined", "")
		return
	}
	if env.Room != room {
		c.drop("wrong_room", env.Room)
		return
	}

	env.Username = username
	frame, err := wire.Encode(env)
	if err != nil {
		c.drop("malformed", err.Error())
		return
	}
	c.hub.broadcast(room, env.Type, frame)
}

func (c *Client) drop(reason, detail string) {
	c.hub.metrics.Dropped.WithLabelValues(reason).Inc()
	logger.Tracef("Connection %s: dropped frame (%s) %s", c.id, reason, detail)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
