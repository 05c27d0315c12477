package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/api"
	"github.com/solatis/rulekeeper/internal/core/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC trigger service and the ops HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "listen host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	serveCmd.Flags().Int("metrics-port", 9090, "ops HTTP port for /healthz and /metrics")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.Server.MetricsPort, _ = cmd.Flags().GetInt("metrics-port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	service, err := api.NewRuleEngineService(a.engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	opsAddr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.MetricsPort))
	ops := server.NewOpsServer(opsAddr, a.registry, func(ctx context.Context) error {
		return a.db.PingContext(ctx)
	})

	logger.Info("starting rulekeeper",
		"version", Version,
		"grpc", net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		"ops", opsAddr)

	errChan := make(chan error, 2)
	go func() { errChan <- grpcServer.Start(ctx) }()
	go func() { errChan <- ops.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errChan:
	case <-sigChan:
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return runErr
}
