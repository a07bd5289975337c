package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alechenninger/tollgate/internal/config"
	"github.com/alechenninger/tollgate/internal/metrics"
	"github.com/alechenninger/tollgate/internal/probe"
	"github.com/alechenninger/tollgate/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tollgate server",
		Long: `Start the tollgate gRPC and HTTP servers.

The server will:
  - Listen for Envoy ext_authz check requests over gRPC
  - Serve Prometheus metrics and health over HTTP
  - Load configuration from file, environment variables, and command-line flags

Configuration precedence (highest to lowest):
  1. Command-line flags
  2. Environment variables (TOLLGATE_*)
  3. Configuration file`,
		RunE: runServe,
	}

	// Server flags
	cmd.Flags().Int("grpc-port", 0, "gRPC server port (default: from config or 10003)")
	cmd.Flags().Int("http-port", 0, "HTTP server port (default: from config or 8080)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Determine config file path
	configPath := configFile
	if configPath == "" {
		configPath = os.Getenv("TOLLGATE_CONFIG")
	}
	if configPath == "" {
		configPath = "./configs/tollgate.yaml"
	}

	// 2. Load configuration (file + env vars + flags)
	loader, err := config.NewLoaderWithFlags(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := loader.Get()
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	// 3. Create provider to build all components from config
	provider := config.NewProvider(cfg)
	logger := provider.Logger()

	matcher, err := provider.Matcher()
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}

	authorizer, err := provider.Authorizer()
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	validator, err := provider.Validator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create JWT validator: %w", err)
	}

	// 4. Create the check handler
	authzServer := server.NewAuthzServer(server.AuthzServerConfig{
		Matcher:   matcher,
		Backend:   authorizer,
		Validator: validator,
		Observer:  probe.NewLoggingCheckObserver(logger, metrics.DefaultMetrics),
		Metrics:   metrics.DefaultMetrics,
		Logger:    logger,
	})

	// 5. Create and start server
	srv := server.New(server.Config{
		GRPCPort: provider.GRPCPort(),
		HTTPPort: provider.HTTPPort(),
		Authz:    authzServer,
		Logger:   logger,
	})
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("tollgate is running",
		"grpc_port", provider.GRPCPort(),
		"http_port", provider.HTTPPort(),
		"config", configPath,
	)

	// 6. Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	// 7. Graceful shutdown
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
