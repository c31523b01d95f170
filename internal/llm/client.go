package llm

import (
	"context"
	"fmt"
	"strings"
)

// Client is the single capability the pipeline needs from a model provider.
type Client interface {
	CreateChatCompletion(ctx context.Context, req *Request) (*Response, error)
}

// Models able to take a screenshot attachment. Requests against anything
// else must not carry an image; callers log a skip and fall back to text.
var visionModels = map[string]struct{}{
	"gpt-4o":                     {},
	"gpt-4o-mini":                {},
	"gpt-4-turbo":                {},
	"claude-3-5-sonnet-latest":   {},
	"claude-3-5-sonnet-20241022": {},
	"claude-sonnet-4-20250514":   {},
	"claude-3-opus-20240229":     {},
}

// SupportsVision reports whether a model accepts multimodal image input.
func SupportsVision(model string) bool {
	_, ok := visionModels[model]
	return ok
}

// ConfigError is a fatal initialization failure (missing credential, unknown
// provider). Surfaced immediately, never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("llm config: %s: %s", e.Field, e.Reason)
}

// SchemaRetryError reports that a provider failed to produce a valid
// structured result within the retry bound.
type SchemaRetryError struct {
	Attempts int
	Last     error
}

func (e *SchemaRetryError) Error() string {
	return fmt.Sprintf("llm: no valid structured output after %d attempts: %v", e.Attempts, e.Last)
}

func (e *SchemaRetryError) Unwrap() error { return e.Last }

// ProviderFor picks a backend constructor by model name prefix.
func ProviderFor(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	default:
		return "openai"
	}
}
