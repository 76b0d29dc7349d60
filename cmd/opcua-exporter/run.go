package main

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/opcuaexporter"
	"github.com/jpalmerr/opcuaexporter/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a text logger writing to w at the given level.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// parseLevel maps a configured log level name to a slog level.
// CRITICAL and FATAL map to error; unknown names fall back to info.
func parseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL", "FATAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runExporter(cmd *cobra.Command, args []string) error {
	configFile := defaultConfigPath
	if len(args) == 1 {
		configFile = args[0]
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cmd.OutOrStdout(), parseLevel(cfg.Exporter.LogLevel))

	logger.Info("config loaded",
		"path", configFile,
		"servers", len(cfg.Servers),
		"version", version,
	)

	endpoints, err := config.BuildEndpoints(cfg)
	if err != nil {
		return fmt.Errorf("failed to build endpoints: %w", err)
	}

	opts := append(config.Options(cfg),
		opcuaexporter.WithEndpoints(endpoints...),
		opcuaexporter.WithLogger(logger),
	)

	exp, err := opcuaexporter.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start exporter - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- exp.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("exporter error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("exporter error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

