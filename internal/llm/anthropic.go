package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultMaxTokens = 3000

// AnthropicClient talks to the Anthropic messages API. Structured output is
// obtained by forcing a tool call whose input schema is the response schema;
// the tool-use block comes back as a normal ToolCall content block, so the
// caller-facing shape matches the OpenAI backend.
type AnthropicClient struct {
	client anthropic.Client
	logger *zap.Logger
}

func NewAnthropicClient(apiKey string, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Field: "ANTHROPIC_API_KEY", Reason: "not set"}
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger.Named("anthropic"),
	}, nil
}

func (c *AnthropicClient) CreateChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for i, m := range req.Messages {
		content := m.Content
		if req.Image != nil && m.IsDOMContent {
			content = DOMPlaceholder
		}

		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: content})
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		default:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(content)}
			if req.Image != nil && i == lastUserIndex(req.Messages) {
				blocks = append(blocks, anthropic.NewImageBlockBase64(
					req.Image.MediaType,
					base64.StdEncoding.EncodeToString(req.Image.Data)))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toolParam(t.Name, t.Description, t.Parameters))
	}

	// A response schema becomes a forced synthetic tool.
	if req.ResponseSchema != nil {
		name := req.SchemaName
		if name == "" {
			name = "structured_output"
		}
		params.Tools = append(params.Tools, toolParam(name,
			"Record the result in the required structure.", req.ResponseSchema))
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: name},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := &Response{
		Role: RoleAssistant,
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: b.Text})
		case anthropic.ToolUseBlock:
			out.Blocks = append(out.Blocks, ContentBlock{
				Type: BlockToolCall,
				ToolCall: &ToolCall{
					Name:      b.Name,
					Arguments: json.RawMessage(block.JSON.Input.Raw()),
				},
			})
		}
	}

	c.logger.Debug("message completion",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens))

	return out, nil
}

func toolParam(name, description string, schema map[string]any) anthropic.ToolUnionParam {
	input := anthropic.ToolInputSchemaParam{}
	if props, ok := schema["properties"]; ok {
		input.Properties = props
	} else {
		input.Properties = schema
	}
	if req, ok := schema["required"].([]string); ok {
		input.Required = req
	} else if reqAny, ok := schema["required"].([]any); ok {
		for _, r := range reqAny {
			if s, ok := r.(string); ok {
				input.Required = append(input.Required, s)
			}
		}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: input,
		},
	}
}
