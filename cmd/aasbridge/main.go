// Package main runs the AAS bridge: it keeps the connector catalog in step
// with remote Asset Administration Shell services and negotiates contracts
// for provider assets.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "aasbridge"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, fs, err := parseFlags(args, stderr)
	if stderrors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp(stdout, fs)
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

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid")
		return nil
	}
	logger.Info("Starting AAS bridge",
		"version", Version,
		"build_time", BuildTime,
		"config", cli.ConfigPaths,
		"storage", cfg.Storage.Mode,
		"agreements", cfg.Agreements.Driver)
	logger.Debug("Effective configuration", "config", cfg.String())

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(cli.ShutdownTimeout); err != nil {
			logger.Error("Shutdown incomplete", "error", err)
		}
	}()

	if err := a.start(ctx); err != nil {
		return err
	}

	if cli.Negotiate.AssetID != "" {
		agr, err := a.negotiateOnce(ctx, cli.Negotiate)
		if err != nil {
			return fmt.Errorf("negotiate %s: %w", cli.Negotiate.AssetID, err)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(agr)
	}

	logger.Info("AAS bridge started")
	<-ctx.Done()
	logger.Info("Received shutdown signal")
	return nil
}

func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
