package llm

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// StripMarkdownJSON removes a surrounding ```json or ``` fence, which some
// models add even when asked for raw JSON.
func StripMarkdownJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSON returns the span from the first "{" to the last "}" of s after
// fence stripping, or "" when s holds no object.
func ExtractJSON(s string) string {
	s = StripMarkdownJSON(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}

// SchemaFor reflects a JSON schema from a Go struct, inlined without $refs so
// it can be sent as a provider response format.
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil
	}
	return data
}
