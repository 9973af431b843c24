package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"logwatch/internal/app"
	"logwatch/internal/config"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to a YAML config file (env APP_CONFIG)")
		container  = pflag.String("container", "", "container name to watch (env CONTAINER_NAME)")
		addr       = pflag.String("addr", "", "status server listen address, empty keeps the configured value")
		logLevel   = pflag.String("log-level", "", "debug, info, warn or error (env APP_LOG_LEVEL)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *container != "" {
		cfg.ContainerName = *container
	}
	if pflag.CommandLine.Changed("addr") {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Info("starting logwatch", "container", cfg.ContainerName, "addr", cfg.Addr, "db", cfg.DBPath)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = a.Run(ctx)
	switch {
	case errors.Is(err, app.ErrNoTargets):
		return
	case err != nil:
		logger.Error("shutdown with error", "err", err)
		stop()
		os.Exit(1)
	}
	logger.Info("stopped")
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
