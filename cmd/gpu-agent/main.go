// Package main is the entry point for the gpu-agent binary. It wires every
// internal package together and serves the HTTP dispatch endpoint.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables, load the YAML config
//  2. Build the logger
//  3. Build the object store client
//  4. Build assets/workflow/allowlist/renderer/callback/joblog components
//  5. Build the job engine wiring all of the above
//  6. Start the HTTP server
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/allowlist"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/api"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/assets"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/callback"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/jobengine"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/joblog"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/objectstore"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/renderer"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "gpu-agent",
		Short: "gpu-agent — single-job ComfyUI render agent",
		Long: `gpu-agent accepts one generation job at a time over HTTP,
materializes its models and LoRAs from object storage, submits the
workflow to a ComfyUI-compatible renderer, uploads the resulting
artifacts, and reports progress back to a controller via webhooks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("GPU_AGENT_CONFIG", "config.yaml"), "path to the agent's YAML configuration file")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("GPU_AGENT_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gpu-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cliCfg *cliConfig) error {
	logger, err := buildLogger(cliCfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting gpu-agent",
		zap.String("version", version),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("renderer", cfg.Renderer.APIURL),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := objectstore.New(ctx, cfg.ObjectStore, logger)
	if err != nil {
		return fmt.Errorf("failed to build object store client: %w", err)
	}

	resolver := assets.New(store, cfg.Paths, logger)
	loader := workflow.New(store, cfg.Paths, logger)
	rendererClient := renderer.New(cfg.Renderer, logger)
	oracle := allowlist.New(rendererClient, cfg.Renderer, cfg.Paths, logger)
	callbacks := callback.New(cfg, logger)
	events := joblog.New(cfg.Paths.Logs, cfg.Renderer.ClientID, logger)

	engine := jobengine.New(cfg, store, resolver, loader, oracle, rendererClient, callbacks, events, logger)

	router := api.NewRouter(api.RouterConfig{
		Dispatcher:  engine,
		ServiceName: "gpu-agent",
		Logger:      logger,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("gpu-agent stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
