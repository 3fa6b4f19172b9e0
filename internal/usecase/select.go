package usecase

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"chai/internal/adapter/llm"
	"chai/internal/domain"
	"chai/internal/port"
)

// shortDescriptionLen caps catalog descriptions in the selection prompt.
const shortDescriptionLen = 150

// SelectorConfig bounds the selection call.
type SelectorConfig struct {
	MaxTokens   int
	Temperature float64
}

type selectResponse struct {
	Answer       string              `json:"answer" jsonschema:"description=Warm reply explaining the choice"`
	TeaIDs       []string            `json:"tea_ids" jsonschema:"description=Chosen tea IDs best first"`
	Tags         map[string][]string `json:"tags" jsonschema:"description=Short tags per chosen ID"`
	Descriptions map[string]string   `json:"descriptions" jsonschema:"description=One or two sentences per chosen ID"`
}

var selectSchema = llm.SchemaFor(&selectResponse{})

// promptTea is one candidate as shown to the model.
type promptTea struct {
	ID          string
	Name        string
	Series      string
	Price       string
	Stock       string
	Composition string
	Tags        string
	Description string
	Score       string
}

// Selector picks the final recommendations from a filtered pool.
type Selector struct {
	llm port.LLM
	cfg SelectorConfig
}

func NewSelector(model port.LLM, cfg SelectorConfig) *Selector {
	return &Selector{llm: model, cfg: cfg}
}

// Select asks the model to choose up to intent.RequestedCount candidates.
// Whatever the model answers, only IDs present in candidates survive, each at
// most once, and the result is never longer than the requested count. An
// empty pool yields no recommendations without calling the model.
func (s *Selector) Select(ctx context.Context, intent domain.QueryIntent, candidates []domain.Candidate) (string, []domain.Recommendation, error) {
	if len(candidates) == 0 || intent.RequestedCount < 1 {
		return "", nil, nil
	}

	teas := make([]promptTea, 0, len(candidates))
	for _, c := range candidates {
		teas = append(teas, toPromptTea(c))
	}
	prompt, err := renderPrompt("select.tmpl", map[string]any{
		"Query": intent.UserText,
		"Count": intent.RequestedCount,
		"Teas":  teas,
	})
	if err != nil {
		return "", nil, s.fail(err)
	}

	out, err := s.llm.Complete(ctx, port.LLMRequest{
		Prompt:      prompt,
		SchemaName:  "tea_selection",
		Schema:      selectSchema,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", nil, s.fail(eris.Wrap(err, "selector: llm call"))
	}

	reply, err := parseSelection(out)
	if err != nil {
		return "", nil, s.fail(err)
	}
	return reply.answer, buildRecommendations(reply, candidates, intent.RequestedCount), nil
}

func (s *Selector) fail(err error) error {
	return domain.NewStageError(domain.StageSelection, err)
}

func toPromptTea(c domain.Candidate) promptTea {
	t := c.Tea
	stock := "out of stock"
	if t.InStock {
		stock = "in stock"
	}
	return promptTea{
		ID:          t.ID,
		Name:        orDash(t.Name),
		Series:      orDash(t.Series),
		Price:       orDash(t.Price),
		Stock:       stock,
		Composition: orDash(strings.Join(t.Composition, ", ")),
		Tags:        orDash(strings.Join(t.Tags, ", ")),
		Description: orDash(shorten(t.Description, shortDescriptionLen)),
		Score:       strconv.FormatFloat(c.Score, 'f', 3, 64),
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// selection is a validated model reply.
type selection struct {
	answer       string
	ids          []string
	tags         map[string][]string
	descriptions map[string]string
}

// parseSelection decodes the reply. A reply without a JSON object or without
// a tea_ids array is an error; malformed tags or descriptions are dropped.
func parseSelection(out string) (*selection, error) {
	body := llm.ExtractJSON(out)
	if body == "" {
		return nil, eris.Errorf("selector: reply has no JSON object: %q", shorten(out, 200))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, eris.Wrapf(err, "selector: decode reply %q", shorten(body, 200))
	}

	var items []json.RawMessage
	if absent(raw["tea_ids"]) || json.Unmarshal(raw["tea_ids"], &items) != nil {
		return nil, eris.New("selector: reply has no tea_ids array")
	}

	sel := &selection{
		tags:         make(map[string][]string),
		descriptions: make(map[string]string),
	}
	sel.answer, _ = rawString(raw["answer"])
	for _, item := range items {
		if id, ok := rawString(item); ok && id != "" {
			sel.ids = append(sel.ids, id)
		}
	}

	var tags map[string]json.RawMessage
	if json.Unmarshal(raw["tags"], &tags) == nil {
		for id, v := range tags {
			var list []json.RawMessage
			if json.Unmarshal(v, &list) != nil {
				continue
			}
			for _, t := range list {
				if tag, ok := rawString(t); ok && tag != "" {
					sel.tags[strings.TrimSpace(id)] = append(sel.tags[strings.TrimSpace(id)], tag)
				}
			}
		}
	}

	var descriptions map[string]json.RawMessage
	if json.Unmarshal(raw["descriptions"], &descriptions) == nil {
		for id, v := range descriptions {
			if d, ok := rawString(v); ok && d != "" {
				sel.descriptions[strings.TrimSpace(id)] = d
			}
		}
	}
	return sel, nil
}

// buildRecommendations keeps the model's order, dropping unknown and
// repeated IDs, and stops at limit.
func buildRecommendations(sel *selection, candidates []domain.Candidate, limit int) []domain.Recommendation {
	byID := make(map[string]domain.Candidate, len(candidates))
	for _, c := range candidates {
		if _, ok := byID[c.Tea.ID]; !ok {
			byID[c.Tea.ID] = c
		}
	}

	recs := make([]domain.Recommendation, 0, min(limit, len(sel.ids)))
	seen := make(map[string]bool, len(sel.ids))
	for _, id := range sel.ids {
		if len(recs) == limit {
			break
		}
		c, ok := byID[id]
		if !ok {
			zap.L().Warn("selector: dropping unknown tea id", zap.String("id", id))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		tea := c.Tea
		tea.Embedding = nil
		recs = append(recs, domain.Recommendation{
			Tea:         tea,
			Rank:        len(recs) + 1,
			Score:       c.Score,
			Description: sel.descriptions[id],
			Tags:        sel.tags[id],
		})
	}
	return recs
}
