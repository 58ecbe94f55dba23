package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jpereira/stockstream/internal/hub"
)

// Config configures the client-facing websocket server.
type Config struct {
	ClientIdleTimeout time.Duration // Close connections with no inbound activity
	WriteTimeout      time.Duration // Write deadline per outbound frame
	PingInterval      time.Duration // Must be shorter than ClientIdleTimeout
	OutboundQueueSize int           // Capacity of each connection's queue
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ClientIdleTimeout: 60 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      50 * time.Second,
		OutboundQueueSize: 256,
	}
}

// Server accepts client websocket connections and manages their lifecycles.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[uuid.UUID]*clientConn

	statsMu       sync.Mutex
	accepted      int64
	unknownFrames int64
}

// NewServer creates a connection manager over the given hub.
func NewServer(cfg Config, h *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		logger: logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced upstream by the REST layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*clientConn),
	}
}

// ServeHTTP upgrades an HTTP request into a managed client connection with
// an empty subscription set.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.New()
	conn := &clientConn{
		id:     id,
		ws:     ws,
		queue:  hub.NewQueue(s.cfg.OutboundQueueSize),
		server: s,
		logger: s.logger.With("conn_id", id),
	}

	s.hub.Register(id, conn.queue)

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	s.statsMu.Lock()
	s.accepted++
	s.statsMu.Unlock()

	conn.start()
	s.logger.Debug("client connected", "conn_id", id, "remote", r.RemoteAddr)
}

func (s *Server) removeConn(id uuid.UUID) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) countUnknownFrame() {
	s.statsMu.Lock()
	s.unknownFrames++
	s.statsMu.Unlock()
}

// Shutdown tears down every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}

	s.logger.Info("gateway stopped", "connections_closed", len(conns))
	return nil
}

// Stats contains gateway counters.
type Stats struct {
	ActiveConnections int
	Accepted          int64
	UnknownFrames     int64
}

// Stats returns a snapshot of gateway counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	active := len(s.conns)
	s.mu.Unlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		ActiveConnections: active,
		Accepted:          s.accepted,
		UnknownFrames:     s.unknownFrames,
	}
}
