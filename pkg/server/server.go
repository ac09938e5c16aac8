// Package server hosts the voice pipeline over WebSocket.
//
// Each connection gets its own session: JSON text frames carry control
// messages, binary frames carry audio in both directions.
package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	internallog "github.com/auralab/go-aural/internal/log"
	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/session"
)

// Config configures the server.
type Config struct {
	// Backend names the generation backend reported by /status.
	Backend string

	// Session is the pipeline wiring applied to every connection.
	Session session.Config

	// Logger for server events. Defaults to the global logger.
	Logger *slog.Logger
}

// Server accepts websocket clients and runs one session per connection.
type Server struct {
	app    *fiber.App
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session

	started        time.Time
	sessionsServed atomic.Uint64
}

// New creates a server with its routes registered.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = internallog.L()
	}

	s := &Server{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*session.Session),
		started:  time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-aural",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())

	// CORS for local development
	app.Use(cors.New())

	app.Get("/status", s.handleStatus)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(s.handleWS))

	s.app = app
	return s
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("server listening", "addr", addr, "backend", s.config.Backend)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and closes active sessions.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()

	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	return err
}

// SessionCount returns the number of connected clients.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Status is the /status response body.
type Status struct {
	Status         string `json:"status"`
	Backend        string `json:"backend"`
	Sessions       int    `json:"sessions"`
	SessionsServed uint64 `json:"sessions_served"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(Status{
		Status:         "ok",
		Backend:        s.config.Backend,
		Sessions:       s.SessionCount(),
		SessionsServed: s.sessionsServed.Load(),
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
	})
}

// handleWS runs one client connection until it drops or misbehaves.
func (s *Server) handleWS(ws *websocket.Conn) {
	c := newConn(ws)
	sess := session.New(c, s.config.Session)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.sessionsServed.Add(1)

	s.logger.Info("client connected", "session_id", sess.ID, "sessions", count)

	defer func() {
		// Tear down the connection before the session. Close the
		// other way round and a turn blocked on a full send queue
		// would never unwind.
		c.close()
		sess.Close()

		s.mu.Lock()
		delete(s.sessions, sess.ID)
		count := len(s.sessions)
		s.mu.Unlock()

		s.logger.Info("client disconnected", "session_id", sess.ID, "sessions", count)
	}()

	go c.writePump()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.HandleBinary(data); err != nil {
				s.logger.Warn("closing on bad audio frame", "session_id", sess.ID, "error", err)
				if msg, merr := protocol.NewErrorMessage("protocol", "malformed audio frame", true); merr == nil {
					c.SendMessage(msg)
				}
				return
			}

		case websocket.TextMessage:
			if err := sess.HandleText(data); err != nil {
				s.logger.Warn("closing on bad message", "session_id", sess.ID, "error", err)
				if msg, merr := protocol.NewErrorMessage("protocol", "malformed message", true); merr == nil {
					c.SendMessage(msg)
				}
				return
			}
		}
	}
}
