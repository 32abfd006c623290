package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facepass",
	Short: "Selfie face search for event photo sessions",
	Long: `FacePass indexes the faces in a photo session and lets guests find
their photos by uploading a selfie.

Photos are ingested asynchronously: each one is queued, its face embedding is
computed by the extraction service and stored per (photo, session). Searches
rank a session's stored embeddings against the selfie's embedding.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (overrides built-in defaults)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format))
	return cfg, nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
