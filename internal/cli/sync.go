package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chai/internal/adapter/extract"
	"chai/internal/domain"
	"chai/internal/usecase"
)

var (
	syncFromCache bool
	syncForce     bool
	syncPrune     bool
	syncLimit     int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Embed cached pages into the vector index",
	Long: `Refresh the content store, then extract every cached page, embed new or
changed teas and upsert them into the vector index. Unchanged teas are skipped.

Examples:
  chai sync                 # Refresh the cache, then sync
  chai sync --from-cache    # Sync what is already cached
  chai sync --force         # Re-embed every tea`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncFromCache, "from-cache", false, "use the content store as is, without fetching")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "re-embed records even when unchanged")
	syncCmd.Flags().BoolVar(&syncPrune, "prune", false, "delete records whose page is no longer cached")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "sync at most N pages (disables --prune)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if !syncFromCache {
		if err := refreshCache(ctx, a, usecase.CacheOptions{Limit: syncLimit}); err != nil {
			return err
		}
		fmt.Println()
	}

	uc := usecase.NewSyncUseCase(a.pages, a.index, a.embedder, extract.NewProductExtractor(), a.meta, a.cfg.Sync.Parallelism)
	fmt.Printf("Syncing %s (%s, %d dims)...\n", a.dataDir, a.embedder.ModelName(), a.embedder.Dimension())

	report, err := uc.Sync(ctx, usecase.SyncOptions{
		Force: syncForce,
		Prune: syncPrune,
		Limit: syncLimit,
	}, newProgress("Syncing"))
	if err != nil {
		return err
	}

	if report.Forced != "" {
		fmt.Printf("Re-embedded every record: %s\n", report.Forced)
	}
	fmt.Printf("\nSync complete:\n")
	fmt.Printf("  Created:  %d\n", report.Created)
	fmt.Printf("  Updated:  %d\n", report.Updated)
	fmt.Printf("  Skipped:  %d (unchanged)\n", report.Skipped)
	fmt.Printf("  Linked:   %d samples (%d relinked)\n", report.Linked, report.Relinked)
	if syncPrune {
		fmt.Printf("  Pruned:   %d\n", report.Pruned)
	}
	printFailures(report.Failures)
	return nil
}

func printFailures(failures []domain.SyncFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Printf("\nFailed (%d):\n", len(failures))
	for _, f := range failures {
		fmt.Printf("  - %s: %s\n", f.SourceID, f.Reason)
	}
}
