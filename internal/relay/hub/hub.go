// Package hub relays room frames between websocket connections.
//
// The hub never sees plaintext. It checks that a connection has joined the
// room a frame names, pins the sender's username, and fans the frame out to
// every member of that room, the sender included.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/relay/metrics"
	"github.com/nthnn/oniontalk/pkg/logger"
)

const reapTimeout = 5 * time.Second

// TicketVerifier resolves an admission ticket to the room it admits to.
type TicketVerifier interface {
	Verify(token string) (string, error)
}

// RoomReaper forgets rooms once their last member has left.
type RoomReaper interface {
	DeleteRoom(ctx context.Context, room string) error
}

// Option configures a Hub.
type Option func(*Hub)

// WithTickets requires a valid ticket on every websocket upgrade.
func WithTickets(v TicketVerifier) Option {
	return func(h *Hub) { h.tickets = v }
}

// WithReaper deletes emptied rooms through r.
func WithReaper(r RoomReaper) Option {
	return func(h *Hub) { h.reaper = r }
}

// WithMetrics records connection and relay counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub tracks connections and room membership.
type Hub struct {
	upgrader websocket.Upgrader
	tickets  TicketVerifier
	reaper   RoomReaper
	metrics  *metrics.Metrics

	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool

	conns   sync.WaitGroup
	reaping sync.WaitGroup
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	return h
}

// HandleWebSocket handles GET /ws.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	var admitted string
	if h.tickets != nil {
		room, err := h.tickets.Verify(c.Query("ticket"))
		if err != nil {
			logger.Debugf("Rejected websocket upgrade: %v", err)
			c.JSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "Invalid or expired ticket"})
			return
		}
		admitted = room
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied.
		logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	client := newClient(h, conn, admitted)
	if !h.register(client) {
		client.shutdown()
		conn.Close()
		return
	}
	logger.Debugf("Connection %s opened", client.id)

	go client.writePump()
	go client.readPump()
}

// Members returns the number of connections joined to room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Rooms returns the number of rooms with at least one member.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close disconnects every client and waits, until ctx is done, for their
// pumps to exit and for pending room deletions. The hub accepts no
// connections afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		h.reaping.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.conns.Add(1)
	h.metrics.Connections.Inc()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.metrics.Connections.Dec()
	emptied := h.leaveLocked(c)
	h.mu.Unlock()

	logger.Debugf("Connection %s closed", c.id)
	h.reap(emptied)
	h.conns.Done()
}

// join adds c to room. Membership is fixed for the life of the connection.
func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
		h.metrics.Rooms.Inc()
	}
	members[c] = struct{}{}
}

// leaveLocked removes c from its room and returns the room name if it is
// now empty.
func (h *Hub) leaveLocked(c *Client) string {
	room := c.joinedRoom()
	members, ok := h.rooms[room]
	if !ok {
		return ""
	}
	if _, member := members[c]; !member {
		return ""
	}
	delete(members, c)
	if len(members) > 0 {
		return ""
	}
	delete(h.rooms, room)
	h.metrics.Rooms.Dec()
	return room
}

// broadcast queues frame for every member of room. Members whose send
// buffer is full are disconnected.
func (h *Hub) broadcast(room string, kind wire.Kind, frame []byte) {
	var slow []*Client
	h.mu.Lock()
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	h.metrics.Envelopes.WithLabelValues(string(kind)).Inc()
	for _, c := range slow {
		logger.Warnf("Connection %s is not keeping up, disconnecting", c.id)
		h.metrics.Dropped.WithLabelValues("slow_consumer").Inc()
		c.shutdown()
	}
}

func (h *Hub) reap(room string) {
	if room == "" || h.reaper == nil {
		return
	}
	h.reaping.Add(1)
	go func() {
		defer h.reaping.Done()

		// A new member may have arrived since the room emptied.
		if h.Members(room) > 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
		defer cancel()
		if err := h.reaper.DeleteRoom(ctx, room); err != nil {
			logger.Errorf("Failed to delete room %s: %v", room, err)
			return
		}
		logger.Infof("Room %s deleted after its last member left", room)
	}()
}
