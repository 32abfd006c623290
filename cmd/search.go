package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <session-id> <image>",
	Short: "Find a session's photos matching the face in an image",
	Long: `Search a session for photos of the person in a local image.

Examples:
  facepass search 5f1c2a selfie.jpg
  facepass search 5f1c2a selfie.jpg --threshold 0.7 --limit 20 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Float64("threshold", -1, "Minimum similarity 0.0-1.0 (default FACE_SIMILARITY_THRESHOLD)")
	searchCmd.Flags().Int("limit", 0, "Maximum results (default SEARCH_DEFAULT_LIMIT)")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	sessionID, imagePath := args[0], args[1]
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	var threshold *float64
	if t := mustGetFloat64(cmd, "threshold"); t >= 0 {
		threshold = &t
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
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

	engine, err := search.NewEngine(b.vectors, b.sessions, extractor.NewHTTPClient(&cfg.Extractor), cfg, nil)
	if err != nil {
		return err
	}

	res, err := engine.SearchImage(ctx, sessionID, image, threshold, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(res)
	}

	switch {
	case res.NoFace:
		fmt.Println("No face detected in the image.")
		return nil
	case res.IndexedPhotos == 0:
		fmt.Printf("Session %s has no indexed photos.\n", sessionID)
		return nil
	}

	fmt.Printf("%d matches among %d indexed photos (threshold %.2f, best %.3f)\n\n",
		len(res.Matches), res.IndexedPhotos, res.Threshold, res.MaxSimilarity)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPHOTO\tSIMILARITY\tCONFIDENCE")
	for i, m := range res.Matches {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.2f\n", i+1, m.PhotoID, m.Similarity, m.Confidence)
	}
	return w.Flush()
}
