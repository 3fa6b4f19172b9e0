// Package llm holds language model clients behind port.LLM.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"chai/internal/port"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ChatClient is an OpenAI-compatible chat completions client. It works with
// OpenRouter, OpenAI and local servers exposing the same API.
type ChatClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	mu    sync.Mutex
	stats Stats
}

// Stats tracks usage across calls.
type Stats struct {
	TotalCalls        int
	TotalInputTokens  int
	TotalOutputTokens int
}

// ChatMessage represents a message in the chat format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

// ChatRequest is the request format for chat completions
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// ChatResponse is the response format from chat completions
type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ChatOptions configures a ChatClient.
type ChatOptions struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewChatClient creates a chat client. The API key is read from opts.APIKeyEnv;
// an empty APIKeyEnv means the endpoint needs no key.
func NewChatClient(opts ChatOptions) (*ChatClient, error) {
	if opts.Model == "" {
		return nil, eris.New("llm: model is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	var apiKey string
	if opts.APIKeyEnv != "" {
		apiKey = os.Getenv(opts.APIKeyEnv)
		if apiKey == "" {
			return nil, eris.Errorf("llm: API key not found. Set %s environment variable", opts.APIKeyEnv)
		}
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &ChatClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  apiKey,
		model:   opts.Model,
		client:  client,
	}, nil
}

func (c *ChatClient) ModelName() string {
	return c.model
}

// Stats returns the usage accumulated so far.
func (c *ChatClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Complete sends one system+user exchange and returns the assistant text.
// With a schema the provider is asked for schema-constrained JSON, otherwise
// for a free JSON object.
func (c *ChatClient) Complete(ctx context.Context, req port.LLMRequest) (string, error) {
	messages := make([]ChatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.Prompt})

	chatReq := ChatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   req.SchemaName,
				Schema: req.Schema,
			},
		}
	}

	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return "", eris.Wrap(err, "llm: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", eris.Wrap(err, "llm: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "llm: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "llm: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("llm: API returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", eris.Wrap(err, "llm: parse response")
	}
	if chatResp.Error != nil {
		return "", eris.Errorf("llm: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", eris.New("llm: no response from model")
	}

	output := chatResp.Choices[0].Message.Content

	c.mu.Lock()
	c.stats.TotalCalls++
	c.stats.TotalInputTokens += chatResp.Usage.PromptTokens
	c.stats.TotalOutputTokens += chatResp.Usage.CompletionTokens
	c.mu.Unlock()

	zap.L().Debug("llm: completion",
		zap.String("model", c.model),
		zap.String("schema", req.SchemaName),
		zap.Int("input_tokens", chatResp.Usage.PromptTokens),
		zap.Int("output_tokens", chatResp.Usage.CompletionTokens),
		zap.Duration("took", time.Since(start)),
	)
	return output, nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
