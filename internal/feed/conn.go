package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is a single websocket session with the provider. The client owns at
// most one at a time; a failed conn is discarded and a new one dialed.
type conn struct {
	cfg    Config
	logger *slog.Logger

	ws *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
	lastMsgAt time.Time
}

// dial establishes a provider connection and starts its read and heartbeat
// loops.
func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}

	c := &conn{
		cfg:       cfg,
		logger:    logger,
		ws:        ws,
		messages:  make(chan TimestampedMessage, cfg.BufferSize),
		errors:    make(chan error, 1),
		done:      make(chan struct{}),
		connected: true,
		lastMsgAt: time.Now(),
	}

	// Provider pings and pongs both count as liveness.
	ws.SetPingHandler(func(data string) error {
		c.touch()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	logger.Debug("feed connected", "url", cfg.URL)
	return c, nil
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastMsgAt = time.Now()
	c.mu.Unlock()
}

// send writes raw bytes to the provider.
func (c *conn) send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close tears the session down. Safe to call more than once.
func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.ws.Close()
}

// readLoop reads frames into the messages channel.
func (c *conn) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after close() was called.
			select {
			case <-c.done:
			default:
				select {
				case c.errors <- err:
				default:
				}
			}
			return
		}

		c.touch()

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn("feed message buffer full, dropping frame")
		}
	}
}

// heartbeatLoop keeps the session alive and flags silence as staleness.
func (c *conn) heartbeatLoop() {
	interval := c.cfg.HeartbeatTimeout / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			last := c.lastMsgAt
			c.mu.RUnlock()

			if time.Since(last) > c.cfg.HeartbeatTimeout {
				c.logger.Warn("no frames from provider, connection stale",
					"last_message", last,
					"timeout", c.cfg.HeartbeatTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
