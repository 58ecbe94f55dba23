package gateway

import (
	"encoding/json"

	"github.com/jpereira/stockstream/internal/hub"
)

// controlFrame is an inbound client control message.
type controlFrame struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// tickFrame is an outbound price frame. Type is "tick" for live updates and
// "snapshot" for the one-shot cached price sent on subscribe.
type tickFrame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"` // milliseconds since epoch
	Volume int64   `json:"volume,omitempty"`
}

// encodeEvent serializes a queued hub event into its wire frame.
func encodeEvent(ev hub.Event) ([]byte, error) {
	frame := tickFrame{
		Type:   "tick",
		Symbol: ev.Tick.Symbol,
		Price:  ev.Tick.Price,
		Ts:     ev.Tick.Timestamp.UnixMilli(),
		Volume: ev.Tick.Volume,
	}
	if ev.Kind == hub.EventSnapshot {
		frame.Type = "snapshot"
		frame.Volume = 0 // snapshots carry price only
	}
	return json.Marshal(frame)
}
