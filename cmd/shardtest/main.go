// shardtest connects a single shard to the gateway and streams
// dispatched events to the console.
// Usage: go run ./cmd/shardtest --config configs/gateway.local.yaml --shard 0
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/gateway/internal/config"
	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/gateway.example.yaml", "path to config file")
	shardID := flag.Int("shard", 0, "shard id to connect")
	shardCount := flag.Int("shard-count", 1, "total shard count")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Gateway.Token == "" {
		logger.Error("gateway.token is required; set it in the config or via environment expansion")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	opts := cfg.ShardOptions()
	gov := ratelimit.New(opts.RateLimit, logger)
	defer gov.Destroy()

	dispatches := make(chan session.Dispatch, 1024)
	sess, err := session.New(session.Config{
		ShardID:              *shardID,
		ShardCount:           *shardCount,
		Token:                opts.Token,
		Intents:              opts.Intents,
		GatewayURL:           opts.GatewayURL,
		Encoding:             opts.Encoding,
		Compression:          opts.Compression,
		LargeThreshold:       opts.LargeThreshold,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		ReconnectBaseDelay:   opts.ReconnectBaseDelay,
		ReconnectMaxDelay:    opts.ReconnectMaxDelay,
		Transport:            opts.Transport,
	}, gov, session.Handlers{
		OnDispatch: func(d session.Dispatch) {
			select {
			case dispatches <- d:
			default:
			}
		},
		OnNotify: func(n session.Notification) {
			logger.Info("lifecycle", "event", n.Type, "close_code", n.CloseCode, "error", n.Err)
		},
	}, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting shard", "shard_id", *shardID, "shard_count", *shardCount)
	if err := sess.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	// Console printer
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-dispatches:
				if *verbose {
					data, _ := json.MarshalIndent(json.RawMessage(d.Data), "", "  ")
					fmt.Printf("[%s] seq=%d\n%s\n", d.Event, d.Seq, data)
				} else {
					fmt.Printf("[%s] seq=%d bytes=%d\n", d.Event, d.Seq, len(d.Data))
				}
			}
		}
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info := sess.Info()
				logger.Info("stats",
					"status", info.Status,
					"seq", info.Seq,
					"guilds", info.Guilds,
					"reconnects", info.Reconnects,
					"heartbeat_latency", info.HeartbeatLatency,
					"frames_received", info.Traffic.FramesReceived,
					"bytes_received", info.Traffic.BytesReceived,
					"decompressed_bytes", info.Compressed.BytesOut,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	sess.Destroy()
	logger.Info("shutdown complete")
}
