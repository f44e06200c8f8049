// ABOUTME: Entry point for the central device-gateway server
// ABOUTME: Wires store, channel, gate and dispatcher; serves the agent HTTP surface

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rentware/device-gateway/internal/channel"
	"github.com/rentware/device-gateway/internal/config"
	"github.com/rentware/device-gateway/internal/dispatch"
	"github.com/rentware/device-gateway/internal/gate"
	"github.com/rentware/device-gateway/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("device-gateway", version)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting device-gateway", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ch, err := channel.NewRedisChannel(ctx, channel.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return err
	}
	defer ch.Close()

	presenceMaxAge := cfg.Dispatch.PresenceMaxAge
	if presenceMaxAge <= 0 {
		presenceMaxAge = 90 * time.Second
	}
	presence := gate.NewPresence(presenceMaxAge)

	sessionTTL := cfg.Auth.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}
	signer := gate.NewSessionSigner([]byte(cfg.Auth.SessionSecret), sessionTTL)
	authenticator := gate.NewAuthenticator(db, logger)

	dispatcher := dispatch.NewDispatcher(ch, dispatch.Options{
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		Grace:          cfg.Dispatch.Grace,
		Presence:       presence,
		Logger:         logger,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	gateHandler, err := gate.NewHandler(authenticator, signer, presence, gate.HandlerOptions{
		TrustedProxies: cfg.Server.TrustedProxies,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	gateHandler.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gate listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
