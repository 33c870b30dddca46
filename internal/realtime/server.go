package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"presenced/internal/presence"
	"presenced/internal/protocol"
	"presenced/internal/router"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	historySize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Host plugins and observers run locally.
	},
}

// Engine is the presence engine behind the server.
type Engine interface {
	Deliver(ev presence.Event) bool
	Reconnect() bool
	Clear() bool
	Status(ctx context.Context) (router.Status, error)
}

// Server accepts host events over HTTP and WebSocket and broadcasts
// presence updates to connected observers.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	history   *RingBuffer
	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a new realtime server.
func New(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		history: NewRingBuffer(historySize),
		clients: make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /events", s.handlePostEvent)
	mux.HandleFunc("GET /presence", s.handleGetPresence)
	mux.HandleFunc("DELETE /presence", s.handleClearPresence)
	mux.HandleFunc("POST /reconnect", s.handleReconnect)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	// Replay recent updates so the observer starts with current state.
	for _, data := range s.history.ReadAll() {
		select {
		case c.send <- data:
		default:
		}
	}
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	close(c.send)
}

// handleMessage validates a host event and hands it to the engine.
func (s *Server) handleMessage(c *client, raw []byte) {
	ev, err := protocol.ParseHostMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}
	if !s.engine.Deliver(ev) {
		s.sendError(c, protocol.ErrUnavailable, "presence engine stopped")
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// OnStatus is the engine subscription callback. It records the update
// in the history and broadcasts it to every observer.
func (s *Server) OnStatus(st router.Status) {
	msg, err := protocol.NewPresenceUpdate(st.Snapshot, st.Connection, st.Attempts)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	s.history.Write(data)
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

// Clients returns the number of connected observers.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
