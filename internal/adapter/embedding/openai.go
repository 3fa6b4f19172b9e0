package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chai/internal/domain"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	maxBatch = 100
)

// Options configures an OpenAI-compatible embedder.
type Options struct {
	APIKeyEnv      string
	Model          string
	BaseURL        string
	Dimension      int
	RequestsPerSec float64 // zero disables rate limiting
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// OpenAIEmbedder talks to any /embeddings endpoint that follows the OpenAI
// wire format (OpenRouter, OpenAI, Ollama).
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAICompatibleEmbedder builds an embedder reading its key from opts.APIKeyEnv.
func NewOpenAICompatibleEmbedder(opts Options) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		return nil, eris.Errorf("embedding: API key not found in environment variable: %s", opts.APIKeyEnv)
	}
	return newEmbedder(apiKey, opts)
}

// NewOllamaEmbedder builds an embedder for a local Ollama server, which needs no key.
func NewOllamaEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434/v1"
	}
	return newEmbedder("ollama", opts)
}

func newEmbedder(apiKey string, opts Options) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, eris.New("embedding: model is required")
	}
	if opts.Dimension <= 0 {
		return nil, eris.Errorf("embedding: invalid dimension %d", opts.Dimension)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	e := &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     opts.Model,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		dimension: opts.Dimension,
		client:    client,
	}
	if opts.RequestsPerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	return e, nil
}

// Embed returns one vector per text, in input order. Any failure, including a
// vector of the wrong size, is reported as *domain.EmbeddingError.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var allEmbeddings [][]float32
	for i := 0; i < len(texts); i += maxBatch {
		end := min(i+maxBatch, len(texts))

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, &domain.EmbeddingError{Model: e.model, Err: err}
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit wait")
		}
	}

	jsonData, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("API returned status %d: %s", resp.StatusCode, preview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, eris.Wrapf(err, "parse response (body: %s)", preview(body))
	}
	if embResp.Error != nil {
		return nil, eris.Errorf("API error: %s", embResp.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, vec := range embeddings {
		if vec == nil {
			return nil, eris.Errorf("missing embedding for input %d", i)
		}
		if len(vec) != e.dimension {
			return nil, eris.Errorf("expected %d dimensions, got %d", e.dimension, len(vec))
		}
	}

	zap.L().Debug("embedding: batch done",
		zap.Int("texts", len(texts)),
		zap.Int("tokens", embResp.Usage.TotalTokens),
		zap.Duration("took", time.Since(start)),
	)
	return embeddings, nil
}

// preview keeps the first 200 runes of an error body.
func preview(body []byte) string {
	s := strings.ToValidUTF8(string(body), "")
	if utf8.RuneCountInString(s) > 200 {
		s = string([]rune(s)[:200])
	}
	return s
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// MockEmbedder produces deterministic vectors derived from the words of the
// input. Texts sharing words get similar vectors.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.EmbeddingError{Model: e.ModelName(), Err: err}
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dimension)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[h.Sum32()%uint32(e.dimension)] += 1
		}
		normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
