package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chai/internal/adapter/llm"
	"chai/internal/usecase"
)

var (
	searchLimit   int
	searchInStock bool
	searchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Recommend teas for a free-text request",
	Long: `Plan the request, retrieve similar teas from the vector index, apply the
requested filters and let the model pick and describe the best matches.

Examples:
  chai search "something spicy for a cold evening, 3 options"
  chai search "puer without samples" --limit 5 --json
  chai search "something smoky" --in-stock`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "number of teas (overrides the request, capped by max_results)")
	searchCmd.Flags().BoolVar(&searchInStock, "in-stock", false, "only recommend teas that are in stock")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	model, err := newLLM(cfg.LLM, cfg.Search.StageTimeout)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	queries := a.queryEmbedder()
	recommend := usecase.NewRecommendUseCase(
		usecase.NewPlanner(model, usecase.PlannerConfig{
			MaxResults:     cfg.Search.MaxResults,
			DefaultResults: cfg.Search.DefaultResults,
			MaxQueryLength: cfg.Search.MaxQueryLength,
			MaxTokens:      cfg.LLM.PlanMaxTokens,
			Temperature:    cfg.LLM.Temperature,
		}).WithSeries(a.index),
		usecase.NewRetriever(queries, a.index, cfg.Search.OverfetchMargin),
		usecase.NewSelector(model, usecase.SelectorConfig{
			MaxTokens:   cfg.LLM.SelectionMaxTokens,
			Temperature: cfg.LLM.Temperature,
		}),
		a.index,
		usecase.RecommendConfig{
			MaxResults:          cfg.Search.MaxResults,
			StageTimeout:        cfg.Search.StageTimeout,
			SampleLookupTimeout: cfg.Search.SampleLookupLimit,
		},
	)

	query := strings.Join(args, " ")
	result, err := recommend.Recommend(ctx, query, usecase.RecommendOptions{
		Limit:   searchLimit,
		InStock: searchInStock,
	})
	logUsage(model, queries.CacheSize())
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	renderResult(os.Stdout, result)
	return nil
}

// logUsage reports token usage of the chat client, when it tracks any, and
// the query cache fill.
func logUsage(model any, cachedQueries int) {
	fields := []zap.Field{zap.Int("cached_queries", cachedQueries)}
	if c, ok := model.(*llm.ChatClient); ok {
		stats := c.Stats()
		fields = append(fields,
			zap.Int("llm_calls", stats.TotalCalls),
			zap.Int("input_tokens", stats.TotalInputTokens),
			zap.Int("output_tokens", stats.TotalOutputTokens),
		)
	}
	zap.L().Debug("search: usage", fields...)
}
