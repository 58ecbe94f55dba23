package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpereira/stockstream/internal/model"
)

// mockProvider creates a test websocket server standing in for the upstream
// feed.
func mockProvider(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type collectSink struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (s *collectSink) OnTick(tick model.Tick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, tick)
	s.mu.Unlock()
}

func (s *collectSink) collected() []model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Tick(nil), s.ticks...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Symbols = []string{"AAPL", "MSFT"}
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	return cfg
}

func TestClient_SubscribesAndNormalizesTicks(t *testing.T) {
	server := mockProvider(t, func(ws *websocket.Conn) {
		// Expect the subscribe command first.
		_, sub, err := ws.ReadMessage()
		if err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if !strings.Contains(string(sub), `"subscribe"`) || !strings.Contains(string(sub), "AAPL") {
			t.Errorf("unexpected subscribe frame: %s", sub)
		}

		frames := []string{
			`{"type":"subscribed","symbols":["AAPL","MSFT"]}`,
			`{"type":"tick","symbol":"AAPL","price":187.25,"ts":1712000000000,"volume":300}`,
			`{"type":"keepalive"}`,
			`{"type":"tick","symbol":"MSFT","price":410.10,"ts":1712000001000}`,
			`not json at all`,
			`{"type":"tick","symbol":"","price":1,"ts":1712000002000}`,
		}
		for _, f := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the session open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sink := &collectSink{}
	client := NewClient(testConfig(wsURL(server)), sink, nil)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		client.Shutdown(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return len(sink.collected()) == 2 })

	ticks := sink.collected()
	if ticks[0].Symbol != "AAPL" || ticks[0].Price != 187.25 || ticks[0].Volume != 300 {
		t.Errorf("tick[0] = %+v", ticks[0])
	}
	if want := time.UnixMilli(1712000000000).UTC(); !ticks[0].Timestamp.Equal(want) {
		t.Errorf("tick[0].Timestamp = %v, want %v", ticks[0].Timestamp, want)
	}
	if ticks[1].Symbol != "MSFT" || ticks[1].Volume != 0 {
		t.Errorf("tick[1] = %+v", ticks[1])
	}

	waitFor(t, 2*time.Second, func() bool { return client.Stats().Malformed == 2 })

	if state := client.State(); state != StateConnected {
		t.Errorf("State() = %v, want connected", state)
	}
	stats := client.Stats()
	if stats.Ticks != 2 {
		t.Errorf("Stats().Ticks = %d, want 2", stats.Ticks)
	}
}

func TestClient_ReconnectsAfterServerDrop(t *testing.T) {
	var mu sync.Mutex
	sessions := 0

	server := mockProvider(t, func(ws *websocket.Conn) {
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()

		if _, _, err := ws.ReadMessage(); err != nil { // subscribe frame
			return
		}
		if n == 1 {
			return // drop the first session immediately
		}
		ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"tick","symbol":"AAPL","price":100,"ts":1712000000000}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sink := &collectSink{}
	client := NewClient(testConfig(wsURL(server)), sink, nil)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		client.Shutdown(ctx)
	}()

	// The tick only arrives on the second session.
	waitFor(t, 5*time.Second, func() bool { return len(sink.collected()) == 1 })

	if client.Stats().Reconnects < 1 {
		t.Errorf("Reconnects = %d, want >= 1", client.Stats().Reconnects)
	}
}

func TestClient_ShutdownIsTerminal(t *testing.T) {
	server := mockProvider(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), &collectSink{}, nil)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return client.State() == StateConnected })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if state := client.State(); state != StateClosed {
		t.Errorf("State() after Shutdown = %v, want closed", state)
	}
}

func TestBackoff_NonDecreasingUntilCap(t *testing.T) {
	bo := newBackoff(time.Second, 8*time.Second)

	wantBases := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // constant at the cap
		8 * time.Second,
	}

	var prev time.Duration
	for i, wantBase := range wantBases {
		if bo.cur != wantBase {
			t.Errorf("step %d: base = %v, want %v", i, bo.cur, wantBase)
		}
		got := bo.next()
		if got < wantBase {
			t.Errorf("step %d: next() = %v, below base %v", i, got, wantBase)
		}
		if got > wantBase+wantBase/4 {
			t.Errorf("step %d: next() = %v, jitter above 25%% of %v", i, got, wantBase)
		}
		if got < prev-prev/4 {
			t.Errorf("step %d: delays regressed: %v after %v", i, got, prev)
		}
		prev = got
	}

	bo.reset()
	if bo.cur != time.Second {
		t.Errorf("reset: base = %v, want 1s", bo.cur)
	}
}

func TestClient_HeartbeatForcesReconnect(t *testing.T) {
	var mu sync.Mutex
	sessions := 0

	server := mockProvider(t, func(ws *websocket.Conn) {
		mu.Lock()
		sessions++
		mu.Unlock()

		// Never send anything; ignore pings so the client sees pure
		// silence and the heartbeat trips.
		ws.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatTimeout = 50 * time.Millisecond

	client := NewClient(cfg, &collectSink{}, nil)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		client.Shutdown(ctx)
	}()

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sessions >= 2
	})
}
