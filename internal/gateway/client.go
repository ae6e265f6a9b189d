package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notifybridge/internal/logging"
	"notifybridge/internal/metrics"
)

// client is one WebSocket connection. deliver runs on the message bus
// goroutine, so it only queues; writeLoop owns all writes to the socket.
type client struct {
	id      string
	user    string
	ws      *websocket.Conn
	msgType string
	logger  logging.Logger
	metrics metrics.Provider

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id, user string, ws *websocket.Conn, cfg Config, logger logging.Logger, m metrics.Provider) *client {
	return &client{
		id:      id,
		user:    user,
		ws:      ws,
		msgType: cfg.NotificationType,
		logger:  logger,
		metrics: m,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *client) deliver(payload json.RawMessage) {
	frame, err := json.Marshal(Frame{Type: c.msgType, Data: payload})
	if err != nil {
		c.logger.Warnf("Failed to encode notification for %s: %v", c.id, err)
		return
	}
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.logger.Warnf("Client %s is not keeping up, dropping notification", c.id)
		c.metrics.IncCounter(metrics.GatewayDropped, 1)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debugf("Write to %s failed: %v", c.id, err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop discards client frames and returns when the connection ends.
func (c *client) readLoop() {
	c.ws.SetReadLimit(maxReadSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugf("Client %s read error: %v", c.id, err)
			}
			return
		}
	}
}

// shutdown asks the peer to go away. readLoop then observes the close.
func (c *client) shutdown() {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
