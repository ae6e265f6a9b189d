// Package gateway serves notifications to browsers over WebSocket. A client
// authenticates with the web application's session cookie and then receives
// every notification published for its user.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notifybridge/internal/logging"
	"notifybridge/internal/metrics"
	"notifybridge/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxReadSize    = 4096
	defaultBuffer  = 64
	defaultMsgType = "notification"
)

// Bridge is what the gateway needs from the notification bridge.
type Bridge interface {
	GetUser(ctx context.Context, token string) (string, bool)
	Register(identity string, cb notify.Callback) (*notify.Registration, error)
	Unregister(identity string, reg *notify.Registration)
}

type Config struct {
	CookieName       string
	NotificationType string
	// Frames queued per connection before new ones are dropped
	SendBuffer int
}

// Frame is the JSON text frame written for each notification.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Server struct {
	bridge   Bridge
	cfg      Config
	upgrader websocket.Upgrader
	logger   logging.Logger
	metrics  metrics.Provider

	mu      sync.Mutex
	closed  bool
	clients map[string]*client
	wg      sync.WaitGroup
}

type Option func(*Server)

func WithLogger(l logging.Logger) Option { return func(s *Server) { s.logger = l } }

func WithMetrics(m metrics.Provider) Option { return func(s *Server) { s.metrics = m } }

// WithCheckOrigin replaces the upgrader's origin check. The default rejects
// cross-origin requests.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

func NewServer(b Bridge, cfg Config, opts ...Option) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultBuffer
	}
	if cfg.NotificationType == "" {
		cfg.NotificationType = defaultMsgType
	}
	s := &Server{
		bridge:   b,
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logging.NewDefaultLogger(),
		metrics:  metrics.Noop{},
		clients:  make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes /ws to the WebSocket endpoint and /healthz to a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) token(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := s.token(r)
	if token == "" {
		s.logger.Debugf("Rejecting connection from %s: no %s cookie", r.RemoteAddr, s.cfg.CookieName)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	user, ok := s.bridge.GetUser(r.Context(), token)
	if !ok {
		s.logger.Debugf("Rejecting connection from %s: session did not resolve", r.RemoteAddr)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.Warnf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := newClient(uuid.NewString(), user, ws, s.cfg, s.logger, s.metrics)
	reg, err := s.bridge.Register(user, c.deliver)
	if err != nil {
		s.logger.Errorf("Failed to register %s for %s: %v", c.id, user, err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	if !s.track(c) {
		s.bridge.Unregister(user, reg)
		c.close()
		return
	}
	s.logger.Infof("Client %s connected as %s", c.id, user)

	go c.writeLoop()
	go func() {
		defer s.wg.Done()
		c.readLoop()
		s.bridge.Unregister(user, reg)
		c.close()
		s.untrack(c)
		s.logger.Infof("Client %s (%s) disconnected", c.id, user)
	}()
}

// track adds c to the live set. It fails once Close has started.
func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	s.wg.Add(1)
	s.metrics.SetGauge(metrics.GatewayConnections, float64(len(s.clients)))
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.metrics.SetGauge(metrics.GatewayConnections, float64(len(s.clients)))
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and waits until each one is unregistered
// or ctx is done.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("gateway: clients still connected"), ctx.Err())
	}
}
