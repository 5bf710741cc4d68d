package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RoomCounter reports live rooms and is satisfied by the hub.
type RoomCounter interface {
	Rooms() int
}

type HealthHandler struct {
	db    Pinger
	rooms RoomCounter
}

func NewHealthHandler(db Pinger, rooms RoomCounter) *HealthHandler {
	return &HealthHandler{db: db, rooms: rooms}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": h.rooms.Rooms()})
}
