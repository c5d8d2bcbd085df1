// flowd serves conversations over HTTP: it loads history, trims it to the
// provider's token budget, dispatches to the configured completion
// provider with bounded retries, and persists both sides of the exchange.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/modelflow/modelflow/flow"
	"github.com/modelflow/modelflow/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		host       string
		port       int
		providerID string
		storePath  string
		verbose    bool
	)

	flagSet := pflag.NewFlagSet("flowd", pflag.ContinueOnError)
	flagSet.StringVar(&configFile, "config", "", "path to config file (JSON or YAML, required)")
	flagSet.StringVar(&host, "host", "", "listen host (overrides config)")
	flagSet.IntVar(&port, "port", 0, "listen port (overrides config)")
	flagSet.StringVar(&providerID, "provider", "", "default provider id (overrides config)")
	flagSet.StringVar(&storePath, "store-path", "", "file or sqlite store path (overrides config)")
	flagSet.BoolVar(&verbose, "verbose", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if configFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: flowd --config <file>")
		flagSet.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := loadDaemonConfig(configFile)
	if err != nil {
		return err
	}

	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if providerID != "" {
		cfg.Flow.Provider = providerID
	}
	if storePath != "" {
		cfg.Flow.Store.Path = storePath
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	f, err := flow.New(&cfg.Flow)
	if err != nil {
		return fmt.Errorf("failed to create flow: %w", err)
	}

	srv, err := server.New(cfg.Server, f)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
