package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpereira/stockstream/internal/model"
)

// Client maintains the single long-lived provider connection and feeds
// normalized ticks into sink. It is constructed once at process startup and
// runs until Shutdown.
type Client struct {
	cfg    Config
	sink   TickSink
	logger *slog.Logger

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu       sync.Mutex
	ticks         int64
	malformed     int64
	reconnects    int64
	lastMessageAt time.Time
}

// NewClient creates a feed client. Start must be called before ticks flow.
func NewClient(cfg Config, sink TickSink, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "feed"),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// Start launches the connection loop. The loop never gives up on its own:
// the process keeps serving REST and ledger work even while the feed is
// down, so the client retries with capped backoff until Shutdown.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("feed client started",
		"url", c.cfg.URL,
		"symbols", len(c.cfg.Symbols),
	)
	return nil
}

// Shutdown stops the connection loop and waits for it to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("feed client stopped")
	case <-ctx.Done():
		c.logger.Warn("feed client shutdown timed out")
	}

	c.setState(StateClosed)
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of feed counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		State:         c.State().String(),
		Ticks:         c.ticks,
		Malformed:     c.malformed,
		Reconnects:    c.reconnects,
		LastMessageAt: c.lastMessageAt,
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// run is the sequential reconnect loop: never two connection attempts in
// flight.
func (c *Client) run() {
	defer c.wg.Done()
	defer c.setState(StateClosed)

	bo := newBackoff(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)

		conn, err := dial(c.ctx, c.cfg, c.logger)
		if err != nil {
			c.setState(StateDisconnected)
			delay := bo.next()
			c.logger.Warn("feed connect failed",
				"error", err,
				"retry_in", delay,
			)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if err := c.subscribe(conn); err != nil {
			c.logger.Warn("feed subscribe failed", "error", err)
			conn.close()
			c.setState(StateDisconnected)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(bo.next()):
			}
			continue
		}

		bo.reset()
		c.setState(StateConnected)

		// Consume until the session dies or shutdown.
		if done := c.consume(conn); done {
			conn.close()
			return
		}

		conn.close()
		c.setState(StateDegraded)
		c.statsMu.Lock()
		c.reconnects++
		c.statsMu.Unlock()
	}
}

// subscribe registers interest in the configured symbols on a fresh session.
func (c *Client) subscribe(conn *conn) error {
	if len(c.cfg.Symbols) == 0 {
		return nil
	}
	cmd := subscribeCmd{Type: "subscribe", Symbols: c.cfg.Symbols}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.send(data)
}

// consume drains one session's frames. Returns true only on shutdown.
func (c *Client) consume(conn *conn) bool {
	for {
		select {
		case <-c.ctx.Done():
			return true

		case err := <-conn.errors:
			c.logger.Warn("feed connection error", "error", err)
			return false

		case msg, ok := <-conn.messages:
			if !ok {
				return false
			}
			c.handleMessage(msg)
		}
	}
}

// handleMessage normalizes one raw provider frame. Malformed frames are
// dropped and counted, never fatal.
func (c *Client) handleMessage(msg TimestampedMessage) {
	c.statsMu.Lock()
	c.lastMessageAt = msg.ReceivedAt
	c.statsMu.Unlock()

	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.countMalformed("unparseable frame", err)
		return
	}

	switch env.Type {
	case "tick":
		tick, ok := c.normalizeTick(msg.Data)
		if !ok {
			return
		}
		c.statsMu.Lock()
		c.ticks++
		c.statsMu.Unlock()
		c.sink.OnTick(tick)

	case "keepalive", "subscribed":
		// Liveness already refreshed by the connection.

	case "error":
		c.logger.Warn("feed provider error frame", "data", string(msg.Data))

	default:
		c.logger.Debug("skipping provider frame", "type", env.Type)
	}
}

// normalizeTick converts a provider tick payload into the internal Tick.
func (c *Client) normalizeTick(data []byte) (model.Tick, bool) {
	var wire tickWire
	if err := json.Unmarshal(data, &wire); err != nil {
		c.countMalformed("bad tick payload", err)
		return model.Tick{}, false
	}
	if wire.Symbol == "" || wire.Price <= 0 || wire.Ts <= 0 {
		c.countMalformed("tick missing required fields", nil)
		return model.Tick{}, false
	}

	return model.Tick{
		Symbol:    wire.Symbol,
		Price:     wire.Price,
		Timestamp: time.UnixMilli(wire.Ts).UTC(),
		Volume:    wire.Volume,
	}, true
}

func (c *Client) countMalformed(reason string, err error) {
	c.statsMu.Lock()
	c.malformed++
	c.statsMu.Unlock()
	c.logger.Warn("dropping malformed provider frame", "reason", reason, "error", err)
}

// -----------------------------------------------------------------------------
// Backoff
// -----------------------------------------------------------------------------

// backoff produces capped exponential delays with jitter. The base sequence
// is non-decreasing until the cap, then constant; jitter adds up to 25% on
// top so a fleet of clients does not hammer a recovering provider in step.
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, cur: base}
}

// next returns the current delay with jitter and advances the sequence.
func (b *backoff) next() time.Duration {
	d := b.cur

	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}

	return d + rand.N(d/4+1)
}

// reset restarts the sequence after a successful connect.
func (b *backoff) reset() {
	b.cur = b.base
}
