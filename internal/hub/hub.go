package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jpereira/stockstream/internal/model"
)

// connEntry tracks one registered connection: its outbound queue and the
// symbols it is subscribed to.
type connEntry struct {
	queue   *Queue
	symbols map[string]struct{}
}

// Hub is the fan-out point between the upstream feed and client connections.
type Hub struct {
	logger *slog.Logger

	mu sync.RWMutex
	// Bidirectional subscription index. Invariant: conns[id].symbols contains
	// s iff subscribers[s] contains id.
	conns       map[uuid.UUID]*connEntry
	subscribers map[string]map[uuid.UUID]*connEntry
	// Last-known price per symbol; timestamps never move backwards.
	prices map[string]model.Tick

	dispatched int64
	staleTicks int64
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:      logger,
		conns:       make(map[uuid.UUID]*connEntry),
		subscribers: make(map[string]map[uuid.UUID]*connEntry),
		prices:      make(map[string]model.Tick),
	}
}

// Register adds a connection with an empty subscription set. The hub takes
// over delivery into queue; the caller keeps draining it.
func (h *Hub) Register(id uuid.UUID, queue *Queue) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[id] = &connEntry{
		queue:   queue,
		symbols: make(map[string]struct{}),
	}
}

// Unregister removes the connection from every symbol index and closes its
// queue. Atomic with respect to dispatch; idempotent.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.conns[id]
	if !ok {
		return
	}

	for sym := range entry.symbols {
		delete(h.subscribers[sym], id)
		if len(h.subscribers[sym]) == 0 {
			delete(h.subscribers, sym)
		}
	}
	delete(h.conns, id)

	entry.queue.Close()
}

// Subscribe adds symbol to the connection's subscription set. When a cached
// price exists, a one-shot snapshot is enqueued so late subscribers are not
// starved until the next live tick. Subscribing twice is a no-op.
func (h *Hub) Subscribe(id uuid.UUID, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.conns[id]
	if !ok {
		return
	}
	if _, dup := entry.symbols[symbol]; dup {
		return
	}

	entry.symbols[symbol] = struct{}{}
	if h.subscribers[symbol] == nil {
		h.subscribers[symbol] = make(map[uuid.UUID]*connEntry)
	}
	h.subscribers[symbol][id] = entry

	if last, cached := h.prices[symbol]; cached {
		entry.queue.Push(Event{Kind: EventSnapshot, Tick: last})
	}
}

// Unsubscribe removes symbol from the connection's subscription set.
func (h *Hub) Unsubscribe(id uuid.UUID, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.conns[id]
	if !ok {
		return
	}
	if _, subscribed := entry.symbols[symbol]; !subscribed {
		return
	}

	delete(entry.symbols, symbol)
	delete(h.subscribers[symbol], id)
	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
	}
}

// OnTick updates the price cache and enqueues the tick to every subscribed
// connection. Called sequentially by the feed client, which preserves
// per-connection, per-symbol arrival order. Never blocks.
func (h *Hub) OnTick(tick model.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.prices[tick.Symbol]; !ok || !tick.Timestamp.Before(last.Timestamp) {
		h.prices[tick.Symbol] = tick
	} else {
		// Out-of-order sample (provider redelivery): still relayed to
		// subscribers, but the cache keeps the newer price.
		h.staleTicks++
	}

	for _, entry := range h.subscribers[tick.Symbol] {
		entry.queue.Push(Event{Kind: EventTick, Tick: tick})
		h.dispatched++
	}
}

// LastPrice returns the cached last tick for symbol.
func (h *Hub) LastPrice(symbol string) (model.Tick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tick, ok := h.prices[symbol]
	return tick, ok
}

// Subscriptions returns the symbols the connection is currently subscribed to.
func (h *Hub) Subscriptions(id uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.conns[id]
	if !ok {
		return nil
	}
	symbols := make([]string, 0, len(entry.symbols))
	for sym := range entry.symbols {
		symbols = append(symbols, sym)
	}
	return symbols
}

// Stats contains hub-level counters.
type Stats struct {
	Connections    int
	Symbols        int
	CachedPrices   int
	TicksDelivered int64
	StaleTicks     int64
	TicksDropped   int64
}

// Stats returns a snapshot of hub counters, including drops summed across
// all connection queues.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var dropped int64
	for _, entry := range h.conns {
		dropped += entry.queue.Dropped()
	}

	return Stats{
		Connections:    len(h.conns),
		Symbols:        len(h.subscribers),
		CachedPrices:   len(h.prices),
		TicksDelivered: h.dispatched,
		StaleTicks:     h.staleTicks,
		TicksDropped:   dropped,
	}
}
