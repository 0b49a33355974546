package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPaths []string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	Validate    bool
}

// parseFlags reads args with environment fallbacks. getenv is os.Getenv
// outside tests.
func parseFlags(args []string, getenv func(string) string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var configDefault []string
	if v := getenv("GEOGATE_CONFIG"); v != "" {
		configDefault = strings.Split(v, ",")
	}

	fs.StringSliceVarP(&cfg.ConfigPaths, "config", "c", configDefault,
		"Configuration file; repeat to layer files, later wins (env: GEOGATE_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr(getenv, "GEOGATE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: GEOGATE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr(getenv, "GEOGATE_LOG_FORMAT", ""),
		"Log format: json, text (env: GEOGATE_LOG_FORMAT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "%s - geospatial WebSocket and HTTP gateway\n\nUsage: %s [options]\n\nOptions:\n",
			appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
