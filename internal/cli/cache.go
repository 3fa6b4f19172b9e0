package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chai/internal/usecase"
)

var (
	cacheLimit   int
	cacheMissing bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Download product pages into the content store",
	Long: `Read the shop sitemap, keep the product URLs that match the configured
include/exclude patterns and store every page in the content store.

Examples:
  chai cache
  chai cache --missing      # Only fetch pages not cached yet
  chai cache --limit 20`,
	Args: cobra.NoArgs,
	RunE: runCache,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.Flags().IntVar(&cacheLimit, "limit", 0, "fetch at most N pages")
	cacheCmd.Flags().BoolVar(&cacheMissing, "missing", false, "skip pages that are already cached")
}

func runCache(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	return refreshCache(cmd.Context(), a, usecase.CacheOptions{Limit: cacheLimit, OnlyMissing: cacheMissing})
}

func refreshCache(ctx context.Context, a *app, opts usecase.CacheOptions) error {
	fmt.Printf("Reading sitemap %s...\n", a.cfg.Fetch.SitemapURL)
	uc := usecase.NewCacheUseCase(newFetcher(a.cfg.Fetch), a.pages, a.cfg.Sync.Parallelism)
	report, err := uc.Cache(ctx, opts, newProgress("Caching"))
	if err != nil {
		return fmt.Errorf("caching failed: %w", err)
	}

	fmt.Printf("\nCache complete:\n")
	fmt.Printf("  Sources:    %d\n", report.Sources)
	fmt.Printf("  New:        %d\n", report.New)
	fmt.Printf("  Changed:    %d\n", report.Changed)
	fmt.Printf("  Unchanged:  %d\n", report.Unchanged)
	if report.Skipped > 0 {
		fmt.Printf("  Skipped:    %d (already cached)\n", report.Skipped)
	}
	printFailures(report.Failures)
	return nil
}
