package usecase

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"chai/internal/adapter/llm"
	"chai/internal/domain"
	"chai/internal/port"
)

// PlannerConfig bounds the query planner.
type PlannerConfig struct {
	MaxResults     int
	DefaultResults int
	MaxQueryLength int
	MaxTokens      int
	Temperature    float64
}

// planResponse documents the expected reply. It only drives the JSON schema
// sent to the model; replies are decoded through rawPlan.
type planResponse struct {
	SearchQuery       string `json:"search_query" jsonschema:"description=Short phrase for vector search"`
	ResultCount       int    `json:"result_count" jsonschema:"description=Number of teas the user wants"`
	Series            string `json:"series" jsonschema:"description=One of the known catalog series or empty"`
	ExcludeSamples    bool   `json:"exclude_samples"`
	ExcludeSets       bool   `json:"exclude_sets"`
	OnlyInStock       bool   `json:"only_in_stock"`
	IsPromptInjection bool   `json:"is_prompt_injection"`
}

// rawPlan holds the model reply before validation. Every field is kept raw
// so a malformed value degrades to "no constraint" instead of failing the
// whole decode.
type rawPlan struct {
	SearchQuery       json.RawMessage `json:"search_query"`
	ResultCount       json.RawMessage `json:"result_count"`
	Series            json.RawMessage `json:"series"`
	ExcludeSamples    json.RawMessage `json:"exclude_samples"`
	ExcludeSets       json.RawMessage `json:"exclude_sets"`
	OnlyInStock       json.RawMessage `json:"only_in_stock"`
	IsPromptInjection json.RawMessage `json:"is_prompt_injection"`
}

var planSchema = llm.SchemaFor(&planResponse{})

// SeriesSource reports the catalog series the planner may filter on.
// port.VectorIndex satisfies it.
type SeriesSource interface {
	Stats(ctx context.Context) (domain.IndexStats, error)
}

// Planner turns free text into a QueryIntent with one LLM call.
type Planner struct {
	llm     port.LLM
	cfg     PlannerConfig
	catalog SeriesSource
}

func NewPlanner(model port.LLM, cfg PlannerConfig) *Planner {
	if cfg.MaxResults < 1 {
		cfg.MaxResults = 1
	}
	if cfg.DefaultResults < 1 || cfg.DefaultResults > cfg.MaxResults {
		cfg.DefaultResults = min(3, cfg.MaxResults)
	}
	return &Planner{llm: model, cfg: cfg}
}

// WithSeries makes the planner offer the catalog's series to the model and
// drop any series label that is not one of them.
func (p *Planner) WithSeries(src SeriesSource) *Planner {
	p.catalog = src
	return p
}

// Plan asks the model for search parameters and validates them. It never
// invents an intent: any failure is returned as a planning StageError.
func (p *Planner) Plan(ctx context.Context, userText string) (domain.QueryIntent, error) {
	query := strings.TrimSpace(userText)
	if query == "" {
		return domain.QueryIntent{}, p.fail(eris.Wrap(domain.ErrInvalidQuery, "planner: query is empty"))
	}
	if p.cfg.MaxQueryLength > 0 {
		if n := utf8.RuneCountInString(query); n > p.cfg.MaxQueryLength {
			return domain.QueryIntent{}, p.fail(eris.Wrapf(domain.ErrInvalidQuery, "planner: query has %d characters, max %d", n, p.cfg.MaxQueryLength))
		}
	}

	known, checkSeries := p.knownSeries(ctx)
	prompt, err := renderPrompt("plan.tmpl", map[string]any{
		"Query":        query,
		"DefaultCount": p.cfg.DefaultResults,
		"MaxCount":     p.cfg.MaxResults,
		"Series":       known,
	})
	if err != nil {
		return domain.QueryIntent{}, p.fail(err)
	}

	out, err := p.llm.Complete(ctx, port.LLMRequest{
		Prompt:      prompt,
		SchemaName:  "query_plan",
		Schema:      planSchema,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return domain.QueryIntent{}, p.fail(eris.Wrap(err, "planner: llm call"))
	}

	intent, err := p.parse(query, out)
	if err != nil {
		return domain.QueryIntent{}, p.fail(err)
	}
	if checkSeries && intent.Filter.Series != "" {
		intent.Filter.Series = matchSeries(intent.Filter.Series, known)
	}

	zap.L().Info("planner: intent",
		zap.String("search_phrase", intent.SearchPhrase),
		zap.Int("count", intent.RequestedCount),
		zap.String("series", intent.Filter.Series),
		zap.Bool("exclude_samples", intent.Filter.ExcludeSamples),
		zap.Bool("exclude_sets", intent.Filter.ExcludeSets),
		zap.Bool("in_stock", intent.Filter.RequireInStock),
	)
	return intent, nil
}

// knownSeries lists the catalog series. The second result is false when
// there is no catalog to check labels against.
func (p *Planner) knownSeries(ctx context.Context) ([]string, bool) {
	if p.catalog == nil {
		return nil, false
	}
	stats, err := p.catalog.Stats(ctx)
	if err != nil {
		zap.L().Warn("planner: series lookup failed, series filter disabled", zap.Error(err))
		return nil, true
	}
	return stats.Series, true
}

// matchSeries returns the known series equal to label ignoring case, or ""
// when the model named a series the catalog does not have.
func matchSeries(label string, known []string) string {
	for _, s := range known {
		if domain.SameSeries(s, label) {
			return s
		}
	}
	zap.L().Info("planner: unknown series dropped", zap.String("series", label))
	return ""
}

func (p *Planner) fail(err error) error {
	return domain.NewStageError(domain.StagePlanning, err)
}

// parse validates a raw model reply.
func (p *Planner) parse(query, out string) (domain.QueryIntent, error) {
	body := llm.ExtractJSON(out)
	if body == "" {
		return domain.QueryIntent{}, eris.Errorf("planner: reply has no JSON object: %q", shorten(out, 200))
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return domain.QueryIntent{}, eris.Wrapf(err, "planner: decode reply %q", shorten(body, 200))
	}

	if injection, _ := rawBool(raw.IsPromptInjection); injection {
		zap.L().Warn("planner: prompt injection flagged", zap.String("query", shorten(query, 200)))
		return domain.QueryIntent{}, eris.Wrap(domain.ErrRejectedQuery, "planner: prompt injection")
	}

	intent := domain.QueryIntent{
		UserText:       query,
		RequestedCount: p.cfg.DefaultResults,
	}
	if phrase, ok := rawString(raw.SearchQuery); ok && phrase != "" {
		intent.SearchPhrase = phrase
	} else {
		intent.SearchPhrase = query
	}
	if n, ok := rawInt(raw.ResultCount); ok {
		intent.RequestedCount = ClampCount(n, p.cfg.MaxResults)
	}
	if series, ok := rawString(raw.Series); ok {
		intent.Filter.Series = series
	}
	intent.Filter.ExcludeSamples, _ = rawBool(raw.ExcludeSamples)
	intent.Filter.ExcludeSets, _ = rawBool(raw.ExcludeSets)
	intent.Filter.RequireInStock, _ = rawBool(raw.OnlyInStock)
	return intent, nil
}

// ClampCount bounds a requested result count to [1, max].
func ClampCount(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if absent(raw) || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func rawBool(raw json.RawMessage) (bool, bool) {
	var b bool
	if absent(raw) || json.Unmarshal(raw, &b) != nil {
		return false, false
	}
	return b, true
}

// rawInt accepts a JSON number or a numeric string. Fractions are truncated
// and out-of-range values saturate.
func rawInt(raw json.RawMessage) (int, bool) {
	if absent(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		s, ok := rawString(raw)
		if !ok {
			return 0, false
		}
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	}
	switch {
	case math.IsNaN(f):
		return 0, false
	case f >= math.MaxInt32:
		return math.MaxInt32, true
	case f <= math.MinInt32:
		return math.MinInt32, true
	}
	return int(f), true
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
