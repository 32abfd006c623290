package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database/postgres"
	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the vector store schema and the job queue schema to DATABASE_URL.

Migrations are idempotent. The vector column width is fixed by
EMBEDDING_DIMENSION on first run; a later run with a different dimension fails.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()

	openPool := postgres.NewQueuePool
	if cfg.Database.Driver == "postgres" {
		openPool = postgres.NewPool
	}
	pool, err := openPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Driver == "postgres" {
		if err := pool.Migrate(ctx, cfg.Embedding.Dim); err != nil {
			return fmt.Errorf("vector store migrations: %w", err)
		}
		applied, err := pool.MigrationsApplied(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Vector store migrations applied: %d (dimension %d)\n", len(applied), cfg.Embedding.Dim)
	}

	if err := ingest.Migrate(ctx, pool.Pgx()); err != nil {
		return err
	}
	fmt.Println("Job queue schema is up to date")
	return nil
}
