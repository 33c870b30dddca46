package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presenced/internal/config"
	"presenced/internal/discord"
	"presenced/internal/realtime"
	"presenced/internal/router"
	"presenced/internal/watcher"

	"github.com/spf13/pflag"
)

const shutdownTimeout = 3 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, listen, logLevel string

	flagSet := pflag.NewFlagSet("presenced", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", config.DefaultPath(), "path to the config file (TOML, JSONC or YAML by extension)")
	flagSet.StringVar(&listen, "listen", "", "address for the host event endpoint (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	engine := router.New(router.Options{
		Connection:      cfg.Connection(),
		NewTransport:    discord.Factory(logger.With("component", "discord")),
		Logger:          logger,
		SendTimeout:     cfg.SendTimeout(),
		ShutdownTimeout: shutdownTimeout,
	})

	rtServer := realtime.New(engine, logger.With("component", "realtime"))
	engine.Subscribe(rtServer.OnStatus)

	var sockWatch *watcher.Watcher
	if cfg.Enabled && cfg.WatchSocket {
		sockWatch = watcher.New(discord.SocketDirs(), discord.SocketPrefix, func(string) {
			engine.Reconnect()
		}, logger.With("component", "watcher"))
		if _, err := sockWatch.Start(); err != nil {
			logger.Warn("socket watcher unavailable", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           rtServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("presenced listening", "addr", cfg.Listen, "enabled", cfg.Enabled)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		stop()
	}

	if sockWatch != nil {
		sockWatch.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	select {
	case <-engine.Done():
	case <-shutdownCtx.Done():
		logger.Warn("router did not stop in time")
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
