package llm

import (
	"context"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"chai/internal/port"
)

// DefaultAnthropicModel is used when the configured model is not a Claude model.
const DefaultAnthropicModel = "claude-haiku-4-5"

// AnthropicClient implements port.LLM with the official Anthropic SDK. The
// Messages API has no JSON response mode, so the schema is appended to the
// system prompt and the reply is expected to be a bare JSON object.
type AnthropicClient struct {
	client sdk.Client
	model  string
}

// AnthropicOptions configures an AnthropicClient.
type AnthropicOptions struct {
	APIKeyEnv string
	Model     string
	BaseURL   string // optional, for tests and proxies
}

func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		return nil, eris.Errorf("llm: API key not found. Set %s environment variable", opts.APIKeyEnv)
	}
	model := opts.Model
	if !strings.HasPrefix(model, "claude") {
		model = DefaultAnthropicModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicClient{
		client: sdk.NewClient(reqOpts...),
		model:  model,
	}, nil
}

func (c *AnthropicClient) ModelName() string {
	return c.model
}

func (c *AnthropicClient) Complete(ctx context.Context, req port.LLMRequest) (string, error) {
	system := req.System
	if len(req.Schema) > 0 {
		system += "\n\nRespond with a single JSON object matching this JSON schema and nothing else:\n" + string(req.Schema)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(req.Temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", eris.New("anthropic: response has no text content")
	}

	zap.L().Debug("llm: completion",
		zap.String("model", c.model),
		zap.String("schema", req.SchemaName),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("took", time.Since(start)),
	)
	return sb.String(), nil
}
