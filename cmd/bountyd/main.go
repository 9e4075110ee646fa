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

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/chains/evm"
	"github.com/celution/bountyd/internal/config"
	"github.com/celution/bountyd/internal/observability/metrics"
	"github.com/celution/bountyd/internal/proofbus"
	"github.com/celution/bountyd/internal/server"
	"github.com/celution/bountyd/internal/storage"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "bountyd",
		Short:   "bountyd - identity proof relay and bounty issue API",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check configuration and the contract deployment",
		Long: `Load the configuration, print missing settings and confirm that the
configured contract address holds code on the configured chain.

EXAMPLES:
  CONTRACT_ADDRESS=0x... CHAIN_RPC_URL=https://... bountyd check
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context())
		},
	}
}

func runCheck(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	warnings := cfg.Warnings()
	for _, w := range warnings {
		fmt.Println("⚠️ ", w)
	}

	addr, ok := cfg.Chain.Contract()
	if !ok {
		return errors.New("no contract configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	gw, err := evm.Dial(ctx, cfg.Chain.RPCURL, gatewayConfig(cfg, addr), nil, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.CheckDeployment(ctx, nil); err != nil {
		return err
	}
	issues, err := gw.ReadIssues(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("✅ contract %s reachable on chain %d (%d issues)\n", addr.Hex(), cfg.Chain.ChainID, len(issues))
	return nil
}

// Server command

func runServe() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg)
	logger.Info("starting bountyd", "version", version)
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration", "warning", w)
	}

	metrics.Init(cfg.Metrics.Enabled, "bountyd")

	// Initialize storage
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	// Run migrations
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	bus, err := proofbus.New(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("initializing proof bus: %w", err)
	}
	defer bus.Close()

	deps := server.Deps{Store: store, Bus: bus, Version: version}
	if addr, ok := cfg.Chain.Contract(); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		gw, err := evm.Dial(ctx, cfg.Chain.RPCURL, gatewayConfig(cfg, addr), nil, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to chain: %w", err)
		}
		defer gw.Close()
		deps.Chain = chains.Reader(gw)
	}

	// Create server
	srv := server.New(cfg, deps, logger)

	// Create HTTP server with configurable timeouts
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	errChan := make(chan error, 2)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Optional dedicated metrics listener
	var metricsServer *http.Server
	if metrics.Enabled() && cfg.Metrics.Port != 0 {
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler: srv.MetricsHandler(),
		}
		go func() {
			logger.Info("metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		metricsServer.Shutdown(ctx)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func gatewayConfig(cfg *config.Config, addr common.Address) evm.Config {
	return evm.Config{
		ContractAddress:     addr,
		RequestsPerSecond:   cfg.Chain.RequestsPerSecond,
		Burst:               cfg.Chain.Burst,
		ReceiptPollInterval: cfg.Chain.ReceiptPollInterval,
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
