package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/jpereira/stockstream/internal/config"
	"github.com/jpereira/stockstream/internal/database"
	"github.com/jpereira/stockstream/internal/feed"
	"github.com/jpereira/stockstream/internal/gateway"
	"github.com/jpereira/stockstream/internal/hub"
	"github.com/jpereira/stockstream/internal/ledger"
	"github.com/jpereira/stockstream/internal/txlog"
	"github.com/jpereira/stockstream/internal/valuation"
	"github.com/jpereira/stockstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.URL,
		"symbols", len(cfg.Feed.Symbols),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	led := ledger.New(logger)

	// Connect to the transaction log database. A DB outage degrades the
	// service (empty positions, zero balances) rather than killing it.
	var pool *pgxpool.Pool
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err = database.Connect(dbCtx, cfg.Database.Postgres)
	dbCancel()
	if err != nil {
		logger.Error("database unavailable, starting with empty positions", "error", err)
		pool = nil
	} else {
		defer pool.Close()
		logger.Info("database connected",
			"host", cfg.Database.Postgres.Host,
			"database", cfg.Database.Postgres.Name,
		)

		if err := replayLog(ctx, pool, led, logger); err != nil {
			logger.Error("transaction log replay failed", "error", err)
			os.Exit(1)
		}
	}

	var balances valuation.BalanceStore = txlog.ZeroBalances{}
	if pool != nil {
		balances = txlog.NewAccounts(pool)
	}

	// Fan-out hub and upstream feed
	h := hub.New(logger)

	feedCfg := feed.DefaultConfig()
	feedCfg.URL = cfg.Feed.URL
	feedCfg.APIKey = cfg.Feed.APIKey
	feedCfg.Symbols = cfg.Feed.Symbols
	feedCfg.DialTimeout = cfg.Feed.DialTimeout
	feedCfg.HeartbeatTimeout = cfg.Feed.HeartbeatTimeout
	feedCfg.ReconnectBaseDelay = cfg.Feed.ReconnectBaseDelay
	feedCfg.ReconnectMaxDelay = cfg.Feed.ReconnectMaxDelay

	feedClient := feed.NewClient(feedCfg, h, logger)
	if err := feedClient.Start(ctx); err != nil {
		logger.Error("failed to start feed client", "error", err)
		os.Exit(1)
	}

	// Live transaction stream
	consumer := txlog.NewConsumer(cfg.TxStream, led, logger)
	if err := consumer.Start(); err != nil {
		logger.Error("failed to start transaction consumer", "error", err)
		os.Exit(1)
	}

	// Client-facing websocket server
	gw := gateway.NewServer(gateway.Config{
		ClientIdleTimeout: cfg.Server.ClientIdleTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		PingInterval:      cfg.Server.PingInterval,
		OutboundQueueSize: cfg.Server.OutboundQueueSize,
	}, h, logger)

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", gw)
	wsServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: wsMux,
	}

	// Valuation engine and health/debug surface
	engine := valuation.NewEngine(h, led, balances, logger)

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(pool, feedClient, h, led, gw, consumer, engine, logger),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting websocket server", "addr", cfg.Server.Addr)
		if err := wsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		consumer.Stop()
		gw.Shutdown(shutdownCtx)
		wsServer.Shutdown(shutdownCtx)
		healthServer.Shutdown(shutdownCtx)
		return feedClient.Shutdown(shutdownCtx)
	})

	logger.Info("streamd running",
		"instance_id", cfg.Instance.ID,
		"ws_url", fmt.Sprintf("ws://localhost%s/ws", cfg.Server.Addr),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}

	logger.Info("streamd stopped")
}

// replayLog folds the persisted transaction log into the ledger.
func replayLog(ctx context.Context, pool *pgxpool.Pool, led *ledger.Ledger, logger *slog.Logger) error {
	store := txlog.NewStore(pool)

	src, err := store.Source(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	start := time.Now()
	stats, err := led.Replay(ctx, src)
	if err != nil {
		return err
	}

	logger.Info("transaction log replayed",
		"applied", stats.Applied,
		"duplicates", stats.Duplicates,
		"rejected", stats.Rejected,
		"elapsed", time.Since(start),
	)
	return nil
}

// createHealthHandler creates the HTTP handler for health checks and the
// debug/valuation surface.
func createHealthHandler(
	pool *pgxpool.Pool,
	feedClient *feed.Client,
	h *hub.Hub,
	led *ledger.Ledger,
	gw *gateway.Server,
	consumer *txlog.Consumer,
	engine *valuation.Engine,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if pool == nil {
			health.Status = "degraded"
			health.Components["postgres"] = "not configured at boot"
		} else if err := pool.Ping(ctx); err != nil {
			health.Status = "degraded"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check upstream feed
		feedStats := feedClient.Stats()
		health.Components["feed"] = feedStats
		if feedClient.State() != feed.StateConnected {
			health.Status = "degraded"
		}

		health.Components["hub"] = h.Stats()
		health.Components["ledger"] = led.Stats()
		health.Components["gateway"] = gw.Stats()
		health.Components["tx_stream"] = consumer.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("GET /portfolio/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		userID := r.PathValue("user_id")
		snap, err := engine.Snapshot(ctx, userID)
		if err != nil {
			logger.Warn("portfolio snapshot failed", "user_id", userID, "error", err)
			http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	return mux
}
