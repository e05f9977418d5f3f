package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	// Negotiate runs one contract negotiation and exits when AssetID is set.
	Negotiate NegotiateFlags
}

// NegotiateFlags describe a one-shot negotiation.
type NegotiateFlags struct {
	CounterpartyID  string
	CounterpartyURL string
	AssetID         string
	OfferID         string
}

func newFlagSet(cfg *CLIConfig, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(out)

	defaultConfig := []string{}
	if env := os.Getenv("AASBRIDGE_CONFIG"); env != "" {
		defaultConfig = strings.Split(env, ",")
	}
	fs.StringSliceVarP(&cfg.ConfigPaths, "config", "c", defaultConfig,
		"Configuration files, applied in order (env: AASBRIDGE_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides log.level)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (overrides log.format)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.StringVar(&cfg.Negotiate.AssetID, "negotiate-asset", "", "Negotiate a contract for this provider asset and exit")
	fs.StringVar(&cfg.Negotiate.CounterpartyID, "counterparty-id", "", "Provider participant id")
	fs.StringVar(&cfg.Negotiate.CounterpartyURL, "counterparty-url", "", "Provider dataspace protocol address")
	fs.StringVar(&cfg.Negotiate.OfferID, "offer-id", "", "Offer to accept (default: chosen from the provider catalog)")

	fs.SortFlags = false
	return fs
}

func parseFlags(args []string, out io.Writer) (*CLIConfig, *pflag.FlagSet, error) {
	cfg := &CLIConfig{}
	fs := newFlagSet(cfg, out)
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return cfg, fs, validateFlags(cfg)
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	n := cfg.Negotiate
	if n.AssetID != "" && (n.CounterpartyID == "" || n.CounterpartyURL == "") {
		return fmt.Errorf("--negotiate-asset needs --counterparty-id and --counterparty-url")
	}
	return nil
}

func printDetailedHelp(out io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(out, `%s - synchronizes remote AAS services into the connector catalog

Usage: %s [options]

Options:
%s
Examples:
  # Run with a base file and a site overlay
  %s -c configs/base.json -c configs/site.yaml

  # Negotiate one asset and print the agreement
  %s -c configs/base.json --negotiate-asset pump-1 \
      --counterparty-id provider --counterparty-url http://provider:8282/protocol

Version: %s
Build: %s
`, appName, appName, fs.FlagUsages(), appName, appName, Version, BuildTime)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
