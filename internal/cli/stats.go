package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chai/internal/usecase"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show content store and vector index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Print the indexed record of one product page",
	Long: `Look up a tea by the URL of its product page, without a vector search.

Example:
  chai get https://beliyles.com/tproduct/123-da-hong-pao`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(statsCmd, getCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func newStatsUseCase(a *app) *usecase.StatsUseCase {
	return usecase.NewStatsUseCase(a.pages, a.index, a.meta, a.embedder)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := newStatsUseCase(a).Stats(cmd.Context())
	if err != nil {
		return err
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	idx, content := report.Index, report.Content
	fmt.Printf("Content store (%s):\n", a.cfg.Content.Driver)
	fmt.Printf("  Pages:        %d\n", content.Pages)
	fmt.Printf("  Size:         %.1f MB\n", float64(content.TotalBytes)/(1<<20))
	if content.Pages > 0 {
		fmt.Printf("  Fetched:      %s .. %s\n", content.Oldest.Format(time.DateTime), content.Newest.Format(time.DateTime))
	}
	fmt.Printf("\nVector index (%s):\n", a.cfg.Index.Backend)
	fmt.Printf("  Teas:         %d\n", idx.Total)
	fmt.Printf("  In stock:     %d\n", idx.InStock)
	fmt.Printf("  Out of stock: %d\n", idx.OutOfStock)
	fmt.Printf("  Samples:      %d\n", idx.Samples)
	fmt.Printf("  Sets:         %d\n", idx.Sets)
	fmt.Printf("  Dimension:    %d\n", idx.Dimension)
	if idx.EmbeddingModel != "" {
		fmt.Printf("  Model:        %s\n", idx.EmbeddingModel)
	}
	if len(idx.Series) > 0 {
		fmt.Printf("  Series:       %s\n", strings.Join(idx.Series, ", "))
	}
	if report.SchemaWarning != "" {
		fmt.Printf("\nWarning: %s\n", report.SchemaWarning)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := newStatsUseCase(a).Lookup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
