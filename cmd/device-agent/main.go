// ABOUTME: Entry point for the on-premise device agent
// ABOUTME: Authenticates through the gate, then runs the command loop with reconnect

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rentware/device-gateway/internal/agent"
	"github.com/rentware/device-gateway/internal/channel"
	"github.com/rentware/device-gateway/internal/config"
	"github.com/rentware/device-gateway/internal/offline"
	"github.com/rentware/device-gateway/internal/protocol"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "agent.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("device-agent", version)
		return
	}

	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	logger.Info("starting device-agent", "version", version, "agent_id", cfg.Agent.AgentID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := offline.NewStore(cfg.Agent.StorePath, cfg.Agent.MaxQueued)
	if err != nil {
		return err
	}
	defer store.Close()

	ch, err := channel.NewRedisChannel(ctx, channel.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return err
	}
	defer ch.Close()

	providers := agent.NewProviderRegistry()
	// Vendor drivers register here; the simulated provider keeps the agent
	// functional without hardware attached.
	providers.Register(protocol.DeviceTerminal, agent.SimulatedProvider{})
	providers.Register(protocol.DeviceFiscalPrinter, agent.SimulatedProvider{})

	gateClient := agent.NewGateClient(cfg.Agent.GatewayURL)

	runner := agent.NewRunner(ch, store, providers, agent.RunnerOptions{
		TenantID:        cfg.Agent.TenantID,
		AgentID:         cfg.Agent.AgentID,
		CleanupInterval: cfg.Agent.CleanupInterval,
		RetentionDays:   cfg.Agent.RetentionDays,
		Logger:          logger,
	})

	heartbeat := cfg.Agent.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	// Connect loop: authenticate, run, and on failure back off and retry.
	backoff := time.Second
	for {
		session, err := gateClient.Connect(ctx, cfg.Agent.TenantID, cfg.Agent.AgentID, cfg.Agent.Key)
		switch {
		case err == nil:
			backoff = time.Second
		case errors.Is(err, agent.ErrUnauthorized), errors.Is(err, agent.ErrForbidden):
			// Credential problems do not resolve by retrying quickly.
			return err
		case errors.Is(err, agent.ErrLockedOut):
			logger.Warn("credential locked, backing off", "wait", time.Minute)
			if !sleep(ctx, time.Minute) {
				return ctx.Err()
			}
			continue
		default:
			logger.Warn("gateway unreachable, retrying", "wait", backoff, "error", err)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		logger.Info("connected to gateway", "tenant_id", session.TenantID)

		runCtx, cancel := context.WithCancel(ctx)
		go heartbeatLoop(runCtx, gateClient, session.Token, heartbeat, logger)

		err = runner.Run(runCtx)
		cancel()
		_ = gateClient.Disconnect(context.Background(), session.Token)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("runner stopped, reconnecting", "error", err)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func heartbeatLoop(ctx context.Context, client *agent.GateClient, token string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx, token); err != nil {
				logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
