package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chai/internal/adapter/embedding"
	"chai/internal/adapter/memstore"
	"chai/internal/domain"
	"chai/internal/port"
)

const testDim = 64

// fakeLLM answers with respond and records every request.
type fakeLLM struct {
	respond func(ctx context.Context, req port.LLMRequest) (string, error)

	mu    sync.Mutex
	calls []port.LLMRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req port.LLMRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

func (f *fakeLLM) ModelName() string { return "fake" }

func (f *fakeLLM) callCount(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.SchemaName == schema {
			n++
		}
	}
	return n
}

func reply(s string) *fakeLLM {
	return &fakeLLM{respond: func(context.Context, port.LLMRequest) (string, error) { return s, nil }}
}

func failing(err error) *fakeLLM {
	return &fakeLLM{respond: func(context.Context, port.LLMRequest) (string, error) { return "", err }}
}

// blocking waits for the context to end.
func blocking() *fakeLLM {
	return &fakeLLM{respond: func(ctx context.Context, _ port.LLMRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
}

var promptIDRe = regexp.MustCompile(`(?m)^ID: (\S+)$`)

// promptIDs lists the candidate IDs shown in a selection prompt.
func promptIDs(prompt string) []string {
	var ids []string
	for _, m := range promptIDRe.FindAllStringSubmatch(prompt, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// pipelineLLM answers planning with plan and selection with the IDs chosen
// by pick from the prompt's candidates.
func pipelineLLM(plan string, pick func(ids []string) []string) *fakeLLM {
	return &fakeLLM{respond: func(_ context.Context, req port.LLMRequest) (string, error) {
		if req.SchemaName == "query_plan" {
			return plan, nil
		}
		chosen := pick(promptIDs(req.Prompt))
		descriptions := make(map[string]string, len(chosen))
		tags := make(map[string][]string, len(chosen))
		for _, id := range chosen {
			descriptions[id] = "  A warming cup for " + id + ".  "
			tags[id] = []string{"warming", "spicy"}
		}
		out, err := json.Marshal(map[string]any{
			"answer":       "Here are some teas ☕",
			"tea_ids":      chosen,
			"tags":         tags,
			"descriptions": descriptions,
		})
		return string(out), err
	}}
}

// productHTML renders a minimal shop page.
func productHTML(name, text string, inStock bool) string {
	qty := "0"
	if inStock {
		qty = "5"
	}
	data, _ := json.Marshal(map[string]any{
		"title":    name,
		"price":    "500",
		"quantity": qty,
		"text":     text,
		"gallery":  []map[string]string{{"img": "https://img.example/" + strings.ReplaceAll(name, " ", "-") + ".jpg"}},
	})
	return fmt.Sprintf("<html><body><script>var product = %s;</script></body></html>", data)
}

func putPage(t *testing.T, pages port.ContentStore, url, html string) {
	t.Helper()
	require.NoError(t, pages.PutPage(context.Background(), url, html))
}

// record builds an embedded record for index-level tests.
func record(t *testing.T, id, name string, mutate func(*domain.TeaRecord)) domain.TeaRecord {
	t.Helper()
	rec := domain.TeaRecord{ID: id, URL: "https://shop.example/tproduct/" + id, Name: name, Description: name + " tea", InStock: true}
	if mutate != nil {
		mutate(&rec)
	}
	vecs, err := embedding.NewMockEmbedder(testDim).Embed(context.Background(), []string{rec.EmbeddingText()})
	require.NoError(t, err)
	rec.Embedding = vecs[0]
	return rec
}

func memIndexWith(t *testing.T, recs ...domain.TeaRecord) *memstore.MemoryIndex {
	t.Helper()
	idx := memstore.NewMemoryIndex(testDim)
	for _, r := range recs {
		require.NoError(t, idx.Upsert(context.Background(), r))
	}
	return idx
}

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vec []float32
}

func (e fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e fixedEmbedder) Dimension() int    { return len(e.vec) }
func (e fixedEmbedder) ModelName() string { return "fixed" }

// flakyEmbedder fails for texts containing marker.
type flakyEmbedder struct {
	port.Embedder
	marker string
}

func (e flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, e.marker) {
			return nil, &domain.EmbeddingError{Model: e.ModelName(), Err: fmt.Errorf("upstream rejected input")}
		}
	}
	return e.Embedder.Embed(ctx, texts)
}

// renamedEmbedder reports another model name.
type renamedEmbedder struct {
	port.Embedder
	name string
}

func (e renamedEmbedder) ModelName() string { return e.name }
