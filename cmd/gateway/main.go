package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/gateway/internal/config"
	"github.com/rickgao/gateway/internal/session"
	"github.com/rickgao/gateway/internal/shard"
	"github.com/rickgao/gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway daemon",
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
		"gateway_url", cfg.Gateway.URL,
		"encoding", cfg.Gateway.Encoding,
		"compression", cfg.Gateway.Compression,
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

	// Create the shard manager
	mgr, err := shard.NewManager(cfg.ShardOptions(), logger)
	if err != nil {
		logger.Error("failed to create shard manager", "error", err)
		os.Exit(1)
	}

	// Start health server early so we can monitor spawn progress
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, mgr),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Drain lifecycle notifications
	go func() {
		for n := range mgr.Notifications() {
			switch n.Type {
			case session.NotifyError:
				logger.Error("shard failed", "shard_id", n.ShardID, "error", n.Err)
			case session.NotifyDisconnect:
				logger.Warn("shard disconnected", "shard_id", n.ShardID, "close_code", n.CloseCode)
			default:
				logger.Info("shard lifecycle", "shard_id", n.ShardID, "event", n.Type)
			}
		}
	}()

	// Drain the dispatch buffer. The daemon itself only counts events;
	// consumers attach here.
	go func() {
		for {
			d, ok := mgr.Dispatches().Receive()
			if !ok {
				return
			}
			logger.Debug("dispatch",
				"shard_id", d.ShardID,
				"event", d.Event,
				"seq", d.Seq,
			)
		}
	}()

	// Bring the fleet up
	logger.Info("spawning shard fleet...")
	if err := mgr.Spawn(ctx); err != nil {
		logger.Error("failed to spawn shards", "error", err)
		mgr.Destroy()
		os.Exit(1)
	}

	// Periodic fleet stats
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("fleet stats",
					"connected", stats.Connected,
					"shard_count", stats.ShardCount,
					"guilds", stats.Guilds,
					"reconnects", stats.Reconnects,
					"dispatch_buffered", stats.Dispatch.Count,
					"dispatch_total", stats.Dispatch.TotalIn,
				)
			}
		}
	}()

	logger.Info("gateway daemon running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	mgr.Destroy()

	logger.Info("gateway daemon stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(path string, mgr *shard.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		stats := mgr.Stats()

		health := struct {
			Status string           `json:"status"`
			Fleet  shard.FleetStats `json:"fleet"`
		}{
			Status: "healthy",
			Fleet:  stats,
		}
		if stats.Connected == 0 {
			health.Status = "unhealthy"
		} else if stats.Connected < len(stats.Shards) {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/shards", func(w http.ResponseWriter, r *http.Request) {
		stats := mgr.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"shard_count": stats.ShardCount,
			"shards":      stats.Shards,
		})
	})

	return mux
}
