package port

import (
	"context"
	"encoding/json"
)

// LLM is a single request/response language model call.
type LLM interface {
	// Complete sends the request and returns the raw model output. Callers
	// are responsible for parsing and validating the structured payload.
	Complete(ctx context.Context, req LLMRequest) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// LLMRequest describes one structured-output call.
type LLMRequest struct {
	System      string
	Prompt      string
	SchemaName  string          // name of the expected response schema
	Schema      json.RawMessage // JSON schema of the expected response, optional
	MaxTokens   int
	Temperature float64
}
