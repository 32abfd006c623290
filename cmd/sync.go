package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
)

var syncCmd = &cobra.Command{
	Use:   "sync <session-id>",
	Short: "Enqueue a session's photos from the blob store",
	Long: `Find a session's photos in the blob store and enqueue each one for indexing.

Previews under the production prefix are preferred, the staging prefix is the
fallback. Photos that already have an embedding are skipped unless --force is
given. Workers ("facepass serve" or "facepass worker") do the actual indexing.

Examples:
  # Sync with defaults
  facepass sync 5f1c2a

  # Only the staging copy, at most 200 photos, re-index everything
  facepass sync 5f1c2a --environment staging --max 200 --force

  # JSON output for scripting
  facepass sync 5f1c2a --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("environment", "", "Blob prefix to scan: production, staging or auto (default auto)")
	syncCmd.Flags().String("pattern", "", "Doublestar pattern selecting image keys")
	syncCmd.Flags().Int("max", 0, "Maximum photos to enqueue (default SYNC_MAX_PHOTOS)")
	syncCmd.Flags().Bool("force", false, "Re-enqueue photos that are already indexed")
	syncCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runSync(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	opts := ingest.SyncOptions{
		Environment: mustGetString(cmd, "environment"),
		Pattern:     mustGetString(cmd, "pattern"),
		MaxPhotos:   mustGetInt(cmd, "max"),
		Force:       mustGetBool(cmd, "force"),
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.requireQueue(); err != nil {
		return err
	}
	if err := b.openBlobs(cfg); err != nil {
		return err
	}

	client, err := ingest.NewClient(b.pool.Pgx(), &cfg.Ingest, nil)
	if err != nil {
		return err
	}
	submitter := ingest.NewSubmitter(client, b.sessions, b.blobs, &cfg.Ingest, nil)
	syncer := ingest.NewSessionSync(b.blobs, b.vectors, submitter, b.sessions, cfg.Ingest.SyncMaxPhotos)

	// Create progress bar (only for non-JSON output)
	var bar *progressbar.ProgressBar
	var progress ingest.SyncProgress
	if !jsonOutput {
		progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Enqueuing photos"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("photos"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
		}
	}

	report, err := syncer.Sync(ctx, args[0], opts, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(report)
	}

	fmt.Printf("Session:     %s\n", report.SessionID)
	fmt.Printf("Prefix:      %s (%s)\n", report.Prefix, report.Environment)
	fmt.Printf("Found:       %d\n", report.Found)
	fmt.Printf("Enqueued:    %d\n", report.Enqueued)
	fmt.Printf("Duplicates:  %d\n", report.Duplicates)
	fmt.Printf("Skipped:     %d (already indexed)\n", report.Skipped)
	fmt.Printf("Invalid:     %d\n", report.Invalid)
	if report.Capped {
		fmt.Println("Stopped at the photo cap; run again to continue.")
	}
	return nil
}
