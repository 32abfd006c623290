package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the FacePass HTTP API.

By default the ingestion workers run in the same process. Use --workers=false
to run the API alone and scale workers separately with "facepass worker".`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run ingestion workers without the HTTP API",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("workers", true, "Run ingestion workers in this process")

	workerCmd.Flags().Int("concurrency", 0, "Number of parallel workers (overrides INGEST_WORKERS)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	return runApp(cfg, appOptions{http: true, workers: mustGetBool(cmd, "workers")})
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		cfg.Ingest.Workers = n
	}

	return runApp(cfg, appOptions{workers: true})
}

// runApp runs the app until SIGINT or SIGTERM, then shuts it down.
func runApp(cfg *config.Config, opts appOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, opts)
	if err != nil {
		return err
	}

	runErr := app.Run(ctx)
	if runErr != nil {
		slog.Error("component failed, shutting down", "error", runErr)
	} else {
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}
