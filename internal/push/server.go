package push

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/loggo"

	"pysakki/internal/metrics"
)

var logger = loggo.GetLogger("pysakki.push")

// Config configures a Server.
type Config struct {
	Handler Handler
	Metrics *metrics.Metrics
	// QueueSize bounds the events waiting to be written to one client.
	QueueSize int
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	AllowedOrigins []string
}

// Server upgrades HTTP requests to WebSocket clients.
type Server struct {
	upgrader  websocket.Upgrader
	handler   Handler
	metrics   *metrics.Metrics
	queueSize int

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer returns a Server dispatching commands to cfg.Handler.
func NewServer(cfg Config) *Server {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 16
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		handler:   cfg.Handler,
		metrics:   cfg.Metrics,
		queueSize: queue,
		clients:   make(map[string]*client),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP serves one client for the lifetime of its connection. When it
// goes away all its room memberships are dropped.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("ws upgrade error: %v", err)
		return
	}
	c := newClient(uuid.NewString(), conn, s.queueSize, s.handler, s.metrics)
	s.add(c)
	logger.Debugf("client %s connected from %s", c.id, r.RemoteAddr)

	c.start()
	if err := c.tomb.Wait(); err != nil {
		logger.Debugf("client %s: %v", c.id, err)
	}

	s.handler.Disconnect(c)
	s.remove(c)
	logger.Debugf("client %s disconnected", c.id)
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.metrics.ClientConnected()
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.metrics.ClientDisconnected()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.tomb.Kill(nil)
	}
}
