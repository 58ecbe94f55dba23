package feed

import (
	"errors"
	"time"

	"github.com/jpereira/stockstream/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames within heartbeat timeout)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the feed client lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateClosed // terminal, only on explicit shutdown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TickSink consumes normalized ticks. Implemented by the fan-out hub.
type TickSink interface {
	OnTick(tick model.Tick)
}

// Config configures the upstream feed client.
type Config struct {
	URL                string        // Provider websocket URL
	APIKey             string        // Bearer token for the dial handshake, empty = no auth
	Symbols            []string      // Symbols to subscribe after each (re)connect
	DialTimeout        time.Duration // Handshake timeout
	WriteTimeout       time.Duration // Write deadline for control sends
	HeartbeatTimeout   time.Duration // Max silence before forcing a reconnect
	ReconnectBaseDelay time.Duration // First backoff delay
	ReconnectMaxDelay  time.Duration // Backoff cap
	BufferSize         int           // Raw message channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:        10 * time.Second,
		WriteTimeout:       5 * time.Second,
		HeartbeatTimeout:   30 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		BufferSize:         4096,
	}
}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Stats contains feed client counters.
type Stats struct {
	State         string
	Ticks         int64
	Malformed     int64
	Reconnects    int64
	LastMessageAt time.Time
}

// -----------------------------------------------------------------------------
// Provider wire format
// -----------------------------------------------------------------------------

// subscribeCmd is the provider's per-symbol subscription request.
type subscribeCmd struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

// tickWire is the provider's tick payload.
type tickWire struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"` // milliseconds since epoch
	Volume int64   `json:"volume,omitempty"`
}
