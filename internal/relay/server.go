// Package relay assembles the oniontalk relay: room registration over HTTP
// and encrypted frame fan-out over websockets.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nthnn/oniontalk/internal/relay/api/handlers"
	"github.com/nthnn/oniontalk/internal/relay/api/middleware"
	"github.com/nthnn/oniontalk/internal/relay/config"
	"github.com/nthnn/oniontalk/internal/relay/database"
	"github.com/nthnn/oniontalk/internal/relay/hub"
	"github.com/nthnn/oniontalk/internal/relay/metrics"
	"github.com/nthnn/oniontalk/internal/relay/tickets"
	"github.com/nthnn/oniontalk/pkg/logger"
)

// Server is a running relay.
type Server struct {
	cfg     *config.Config
	db      *database.DB
	hub     *hub.Hub
	metrics *metrics.Metrics
	router  *gin.Engine
	http    *http.Server
}

// New opens the database and wires handlers. The caller must Close the
// server.
func New(cfg *config.Config) (*Server, error) {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	issuer, err := tickets.NewIssuer(cfg.TicketSecret, cfg.TicketTTL)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()
	h := hub.New(
		hub.WithTickets(issuer),
		hub.WithReaper(db),
		hub.WithMetrics(m),
	)

	s := &Server{cfg: cfg, db: db, hub: h, metrics: m}
	s.router = s.routes(issuer)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(issuer *tickets.Issuer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))
	router.Use(middleware.LoggingMiddleware())

	rooms := handlers.NewRoomHandler(s.db, issuer, handlers.WithRoomMetrics(s.metrics))
	health := handlers.NewHealthHandler(s.db, s.hub)

	router.POST("/create-room", rooms.CreateRoom)
	router.POST("/join-room", rooms.JoinRoom)
	router.GET("/ws", s.hub.HandleWebSocket)
	router.GET("/healthz", health.Health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	if s.cfg.StaticDir != "" {
		files := http.FileServer(http.Dir(s.cfg.StaticDir))
		router.NoRoute(gin.WrapH(files))
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logger.Infof("Relay listening on %s", s.cfg.Addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Infof("Shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	if err := s.hub.Close(shutdownCtx); err != nil {
		logger.Warnf("Hub did not drain: %v", err)
	}
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the database. Call it after Run returns.
func (s *Server) Close() error {
	return s.db.Close()
}
