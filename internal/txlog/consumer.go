package txlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jpereira/stockstream/internal/config"
	"github.com/jpereira/stockstream/internal/ledger"
	"github.com/jpereira/stockstream/internal/model"
)

// Consumer applies live transactions from a NATS subject to the ledger.
// Delivery is at-least-once; duplicates are absorbed by the ledger.
type Consumer struct {
	cfg    config.TxStreamConfig
	ledger *ledger.Ledger
	logger *slog.Logger

	conn *nats.Conn
	sub  *nats.Subscription

	statsMu    sync.Mutex
	received   int64
	applied    int64
	duplicates int64
	rejected   int64
	malformed  int64
}

// NewConsumer prepares a consumer. The connection is established by Start.
func NewConsumer(cfg config.TxStreamConfig, led *ledger.Ledger, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		ledger: led,
		logger: logger.With("component", "txlog"),
	}
}

// Start connects to NATS and subscribes to the transaction subject.
func (c *Consumer) Start() error {
	opts := []nats.Option{
		nats.Name("streamd-txlog"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	sub, err := nc.Subscribe(c.cfg.Subject, c.handleMessage)
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %q: %w", c.cfg.Subject, err)
	}

	c.conn = nc
	c.sub = sub
	c.logger.Info("transaction stream subscribed", "subject", c.cfg.Subject)
	return nil
}

func (c *Consumer) handleMessage(msg *nats.Msg) {
	c.count(&c.received)

	var tx model.Transaction
	if err := json.Unmarshal(msg.Data, &tx); err != nil {
		c.count(&c.malformed)
		c.logger.Warn("malformed transaction message", "subject", msg.Subject, "error", err)
		return
	}

	res, err := c.ledger.Apply(tx)
	switch {
	case err != nil:
		c.count(&c.rejected)
		c.logger.Warn("transaction rejected",
			"tx_id", tx.ID,
			"user_id", tx.UserID,
			"symbol", tx.Symbol,
			"error", err)
	case res.Duplicate:
		c.count(&c.duplicates)
		c.logger.Debug("duplicate transaction ignored", "tx_id", tx.ID)
	default:
		c.count(&c.applied)
	}
}

// Stop drains the subscription so in-flight messages finish processing.
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", "error", err)
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.logger.Info("transaction stream stopped")
}

// Stats contains consumer counters.
type Stats struct {
	Received   int64
	Applied    int64
	Duplicates int64
	Rejected   int64
	Malformed  int64
}

// Stats returns a snapshot of consumer counters.
func (c *Consumer) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		Received:   c.received,
		Applied:    c.applied,
		Duplicates: c.duplicates,
		Rejected:   c.rejected,
		Malformed:  c.malformed,
	}
}

func (c *Consumer) count(field *int64) {
	c.statsMu.Lock()
	*field++
	c.statsMu.Unlock()
}
