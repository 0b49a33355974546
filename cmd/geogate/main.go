// Command geogate serves geospatial actions over WebSocket and HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/geogate/config"
)

// Build information.
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "geogate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("geogate failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, os.Getenv, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := loadConfig(cli.ConfigPaths)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "warning", w)
	}
	if cli.Validate {
		logger.Info("configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("starting geogate", "build_time", BuildTime, "config_paths", cli.ConfigPaths)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(cfg.Server.ShutdownTimeout.Std())
		return err
	}
	logger.Info("geogate ready")

	<-ctx.Done()
	logger.Info("received shutdown signal")

	if err := a.Stop(cfg.Server.ShutdownTimeout.Std()); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("geogate shutdown complete")
	return nil
}

func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
