package kpset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundprediction/kpset/pkg/server"
	"github.com/soundprediction/kpset/pkg/utils"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the kpset HTTP server",
	Long: `Start the kpset HTTP server to serve keyphrase predictions over a REST API.

The server provides endpoints for:
- Predicting keyphrases for posted documents
- Listing the reports of evaluate and predict runs
- Health checks

The model backend is wrapped in a circuit breaker; configure it under
circuit_breaker. Configuration can be provided through config files,
environment variables, or command-line flags.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("host", "localhost", "Server host")
	serverCmd.Flags().Int("port", 8080, "Server port")
	serverCmd.Flags().String("mode", "debug", "Server mode (debug, release, test)")
	serverCmd.Flags().Bool("replace-unk", true, "Replace <unk> with the most attended source word")
	serverCmd.Flags().String("report-dir", "", "Directory of run reports to serve")

	addModelFlags(serverCmd.Flags())
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validateServerConfig(cfg.Server.Port); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, cleanup := setupLogger(cfg)
	defer cleanup()

	// The server always runs behind the circuit breaker.
	cfg.CircuitBreaker.Enabled = true
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// Create and setup server
	srv := server.New(cfg, client, logger)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		defer utils.RecoverWithCallback(func(err error) {
			serverErrChan <- err
		})
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("Received signal", "signal", sig.String())

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Server stopped gracefully")
		return nil
	}
}

func validateServerConfig(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
