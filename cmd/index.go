package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/database"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the identity index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the identity index from storage",
	Long: `Build the identity index from the active embeddings in storage.

With --save the graph is written to HNSW_INDEX_PATH so the tracker can load
it on startup instead of rebuilding.`,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)

	indexRebuildCmd.Flags().Bool("save", false, "Persist the index to HNSW_INDEX_PATH")
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	save := mustGetBool(cmd, "save")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if save && cfg.Database.HNSWIndexPath == "" {
		return fmt.Errorf("--save requires HNSW_INDEX_PATH")
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	active, err := store.GetAllActiveEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	index := database.NewIdentityIndex()
	if err := index.Rebuild(active.Vectors, active.Labels); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	fmt.Printf("Indexed %d embeddings of %d employees in %s\n", index.Size(), index.LabelCount(), time.Since(start).Round(time.Millisecond))

	if save {
		if err := index.SaveWithMetadata(cfg.Database.HNSWIndexPath); err != nil {
			return fmt.Errorf("failed to save index: %w", err)
		}
		fmt.Printf("Saved to %s\n", cfg.Database.HNSWIndexPath)
	}
	return nil
}
