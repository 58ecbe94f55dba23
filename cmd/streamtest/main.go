// streamtest connects to a running streamd gateway and prints the tick
// stream to console. Useful for eyeballing relay latency and snapshot
// behavior without a browser client.
//
// Usage: go run ./cmd/streamtest --addr ws://localhost:8081/ws --symbols AAPL,MSFT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type controlFrame struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type tickFrame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
	Volume int64   `json:"volume,omitempty"`
}

func main() {
	addr := flag.String("addr", "ws://localhost:8081/ws", "gateway websocket URL")
	symbolsArg := flag.String("symbols", "AAPL", "comma-separated symbols to subscribe")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	symbols := strings.Split(*symbolsArg, ",")
	for i := range symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(symbols[i]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, *addr, nil)
	if err != nil {
		logger.Error("failed to dial gateway", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer ws.Close()

	logger.Info("connected", "addr", *addr, "symbols", symbols)

	if err := ws.WriteJSON(controlFrame{Type: "subscribe", Symbols: symbols}); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		ws.SetReadDeadline(time.Now())
	}()

	var count int64
	start := time.Now()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("read failed", "error", err)
			os.Exit(1)
		}

		count++
		if *verbose {
			fmt.Println(string(data))
			continue
		}

		var frame tickFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("unparseable frame", "data", string(data))
			continue
		}
		at := time.UnixMilli(frame.Ts)
		fmt.Printf("%-8s %-6s %10.2f  vol=%-8d lag=%s\n",
			frame.Type, frame.Symbol, frame.Price, frame.Volume,
			time.Since(at).Truncate(time.Millisecond))
	}

	elapsed := time.Since(start)
	logger.Info("done",
		"frames", count,
		"elapsed", elapsed.Truncate(time.Millisecond),
		"rate", fmt.Sprintf("%.1f/s", float64(count)/elapsed.Seconds()),
	)
}
