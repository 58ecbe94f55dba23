package gateway

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jpereira/stockstream/internal/hub"
)

// clientConn is one accepted client socket: an id, the socket handle, the
// hub-owned outbound queue, and the reader/writer pair bound to it.
type clientConn struct {
	id     uuid.UUID
	ws     *websocket.Conn
	queue  *hub.Queue
	server *Server
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *clientConn) start() {
	go c.readPump()
	go c.writePump()
	go c.pingLoop()
}

// teardown deregisters the connection and closes the socket. Idempotent:
// reader, writer, pinger, and server shutdown may all race into it.
func (c *clientConn) teardown() {
	c.closeOnce.Do(func() {
		c.server.removeConn(c.id)
		c.server.hub.Unregister(c.id) // closes the queue, which stops writePump
		c.ws.Close()
		c.logger.Debug("client connection closed")
	})
}

// readPump decodes inbound control frames and applies them to the hub.
// Any inbound frame (including pongs) refreshes the idle deadline; silence
// beyond the idle timeout closes the connection.
func (c *clientConn) readPump() {
	defer c.teardown()

	idle := c.server.cfg.ClientIdleTimeout
	c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})
	c.ws.SetPingHandler(func(data string) error {
		c.ws.SetReadDeadline(time.Now().Add(idle))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(idle))

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.server.countUnknownFrame()
			c.logger.Debug("undecodable control frame", "error", err)
			continue
		}

		switch frame.Type {
		case "subscribe":
			for _, sym := range normalizeSymbols(frame.Symbols) {
				c.server.hub.Subscribe(c.id, sym)
			}
		case "unsubscribe":
			for _, sym := range normalizeSymbols(frame.Symbols) {
				c.server.hub.Unsubscribe(c.id, sym)
			}
		default:
			c.server.countUnknownFrame()
			c.logger.Debug("unknown control frame type", "type", frame.Type)
		}
	}
}

// writePump drains the outbound queue to the socket. It exits when the
// queue is closed (teardown) or a write fails.
func (c *clientConn) writePump() {
	defer c.teardown()

	for {
		ev, ok := c.queue.Pop()
		if !ok {
			c.writeControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		data, err := encodeEvent(ev)
		if err != nil {
			c.logger.Warn("failed to encode outbound frame", "error", err)
			continue
		}

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
		err = c.ws.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// pingLoop keeps idle-but-healthy clients alive across the read deadline.
func (c *clientConn) pingLoop() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.writeControl(websocket.PingMessage, nil); err != nil {
			c.teardown()
			return
		}
	}
}

func (c *clientConn) writeControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(messageType, data, time.Now().Add(c.server.cfg.WriteTimeout))
}

func normalizeSymbols(symbols []string) []string {
	out := symbols[:0]
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
