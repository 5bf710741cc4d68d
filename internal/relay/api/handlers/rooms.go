// Package handlers implements the relay's HTTP endpoints.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/nthnn/oniontalk/internal/protocol/wire"
	"github.com/nthnn/oniontalk/internal/relay/database"
	"github.com/nthnn/oniontalk/internal/relay/metrics"
	"github.com/nthnn/oniontalk/pkg/logger"
)

// RoomStore persists rooms and their password hashes.
type RoomStore interface {
	RoomPasswordHash(ctx context.Context, room string) (string, error)
	CreateRoom(ctx context.Context, room, passwordHash string) error
}

// TicketIssuer signs websocket admission tickets.
type TicketIssuer interface {
	Issue(room string) (string, error)
}

// RoomHandler serves /create-room and /join-room.
type RoomHandler struct {
	store   RoomStore
	tickets TicketIssuer
	metrics *metrics.Metrics
	cost    int
}

// RoomOption configures a RoomHandler.
type RoomOption func(*RoomHandler)

// createAttempts bounds inserts per create-room request.
const createAttempts = 2

// WithBcryptCost sets the cost used when hashing new room passwords.
func WithBcryptCost(cost int) RoomOption {
	return func(h *RoomHandler) { h.cost = cost }
}

// WithRoomMetrics counts requests on m.
func WithRoomMetrics(m *metrics.Metrics) RoomOption {
	return func(h *RoomHandler) { h.metrics = m }
}

func NewRoomHandler(store RoomStore, tickets TicketIssuer, opts ...RoomOption) *RoomHandler {
	h := &RoomHandler{store: store, tickets: tickets, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateRoom handles POST /create-room. A new room is created with the given
// password; an existing room admits callers that know its password.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	req, ok := h.bind(c, "create")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	for attempt := 0; ; attempt++ {
		hash, err := h.store.RoomPasswordHash(ctx, req.Name)
		if errors.Is(err, database.ErrRoomNotFound) {
			// The room was created and reaped again between our insert
			// and lookup, more than once.
			if attempt == createAttempts {
				h.reject(c, "create", http.StatusConflict, "Room is being recreated, try again")
				return
			}
			created, cerr := h.create(ctx, req)
			if cerr != nil {
				h.fail(c, "create", cerr)
				return
			}
			if created {
				logger.Infof("Room %s created", req.Name)
				h.admit(c, "create", http.StatusCreated, req.Name)
				return
			}
			// Lost a race with another creator; check against their password.
			continue
		}
		if err != nil {
			h.fail(c, "create", err)
			return
		}
		if !passwordMatches(hash, req.Password) {
			h.reject(c, "create", http.StatusUnauthorized, "Invalid password")
			return
		}
		h.admit(c, "create", http.StatusOK, req.Name)
		return
	}
}

// JoinRoom handles POST /join-room. The room must already exist.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	req, ok := h.bind(c, "join")
	if !ok {
		return
	}

	hash, err := h.store.RoomPasswordHash(c.Request.Context(), req.Name)
	if errors.Is(err, database.ErrRoomNotFound) {
		h.reject(c, "join", http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		h.fail(c, "join", err)
		return
	}
	if !passwordMatches(hash, req.Password) {
		h.reject(c, "join", http.StatusUnauthorized, "Invalid password")
		return
	}
	h.admit(c, "join", http.StatusOK, req.Name)
}

func (h *RoomHandler) bind(c *gin.Context, endpoint string) (wire.RoomRequest, bool) {
	var req wire.RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reject(c, endpoint, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if !wire.ValidName(req.Name) {
		h.reject(c, endpoint, http.StatusBadRequest, "Invalid room name")
		return req, false
	}
	if req.Password == "" {
		h.reject(c, endpoint, http.StatusBadRequest, "Password is required")
		return req, false
	}
	return req, true
}

// create stores a new room. created is false when the room appeared
// between lookup and insert.
func (h *RoomHandler) create(ctx context.Context, req wire.RoomRequest) (created bool, err error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(req.Password), h.cost)
	if err != nil {
		return false, err
	}
	err = h.store.CreateRoom(ctx, req.Name, string(hash))
	if errors.Is(err, database.ErrRoomExists) {
		return false, nil
	}
	return err == nil, err
}

func (h *RoomHandler) admit(c *gin.Context, endpoint string, status int, room string) {
	ticket, err := h.tickets.Issue(room)
	if err != nil {
		h.fail(c, endpoint, err)
		return
	}
	h.count(endpoint, "admitted")
	c.JSON(status, wire.RoomAdmission{Ticket: ticket})
}

func (h *RoomHandler) reject(c *gin.Context, endpoint string, status int, msg string) {
	h.count(endpoint, http.StatusText(status))
	c.JSON(status, wire.ErrorResponse{Error: msg})
}

func (h *RoomHandler) fail(c *gin.Context, endpoint string, err error) {
	logger.Errorf("%s room: %v", endpoint, err)
	h.reject(c, endpoint, http.StatusInternalServerError, "Internal server error")
}

func (h *RoomHandler) count(endpoint, outcome string) {
	if h.metrics != nil {
		h.metrics.Admissions.WithLabelValues(endpoint, outcome).Inc()
	}
}

// prehash keeps long passwords under bcrypt's 72 byte input limit.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

func passwordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}
