// Package llm abstracts hosted chat-completion providers behind one
// normalized request/response shape. Provider-specific structured-output
// mechanics (OpenAI emits JSON text, Anthropic emits a tool-use block) are
// coerced into the same tagged content union at this boundary so nothing
// above it knows which backend answered.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt message. IsDOMContent marks messages whose text is a
// serialized DOM; when a screenshot is attached to the request, backends
// replace such text with a placeholder so the model relies on the image.
type Message struct {
	Role         Role
	Content      string
	IsDOMContent bool
}

// DOMPlaceholder is what a DOM message collapses to in vision mode.
const DOMPlaceholder = "[DOM content omitted: use the attached screenshot of the page instead]"

// Image is an optional screenshot attachment.
type Image struct {
	Data      []byte
	MediaType string // e.g. "image/jpeg"
}

// Tool is a provider-neutral function/tool definition.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema map ({"type":"object","properties":...}).
	Parameters map[string]any
}

// Request is the single operation the pipeline issues against a provider.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Image       *Image
	// ResponseSchema, when set, demands a structured result in this shape.
	ResponseSchema map[string]any
	SchemaName     string
	Tools          []Tool
	// RequestID groups cache entries for targeted invalidation.
	RequestID string
	// ForceRefresh bypasses a cache hit for this call (used to re-evaluate
	// a step after a failed attempt).
	ForceRefresh bool
}

type BlockType string

const (
	BlockText     BlockType = "text"
	BlockToolCall BlockType = "tool_call"
)

// ToolCall is a structured tool invocation returned by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentBlock is the tagged union of response content.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the normalized provider result.
type Response struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
	Usage  Usage          `json:"usage"`
}

// Text returns the concatenated text blocks.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Structured returns the structured payload of the response: the first tool
// call's arguments if present, otherwise the text content parsed as a JSON
// object. Models occasionally fence JSON in backticks; that wrapping is
// stripped before parsing.
func (r *Response) Structured() (json.RawMessage, error) {
	for _, b := range r.Blocks {
		if b.Type == BlockToolCall && b.ToolCall != nil {
			if len(b.ToolCall.Arguments) == 0 {
				return nil, fmt.Errorf("llm: tool call %q carried no arguments", b.ToolCall.Name)
			}
			return b.ToolCall.Arguments, nil
		}
	}
	text := strings.TrimSpace(r.Text())
	text = strings.Trim(text, "`")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("llm: response carried no structured content")
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, fmt.Errorf("llm: response is not a JSON object: %w", err)
	}
	return json.RawMessage(text), nil
}
