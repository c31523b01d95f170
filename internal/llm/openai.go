package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient talks to the OpenAI chat-completions API.
type OpenAIClient struct {
	client *openai.Client
	logger *zap.Logger
}

func NewOpenAIClient(apiKey string, logger *zap.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Field: "OPENAI_API_KEY", Reason: "not set"}
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		logger: logger.Named("openai"),
	}, nil
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for i, m := range req.Messages {
		content := m.Content
		if req.Image != nil && m.IsDOMContent {
			content = DOMPlaceholder
		}

		// The screenshot rides on the last user message as a multimodal part.
		if req.Image != nil && m.Role == RoleUser && i == lastUserIndex(req.Messages) {
			messages = append(messages, openai.ChatCompletionMessage{
				Role: string(m.Role),
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: content},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s",
								req.Image.MediaType,
								base64.StdEncoding.EncodeToString(req.Image.Data)),
						},
					},
				},
			})
			continue
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.ResponseSchema != nil {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no response choices")
	}

	choice := resp.Choices[0].Message
	out := &Response{
		Role: RoleAssistant,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if choice.Content != "" {
		out.Blocks = append(out.Blocks, ContentBlock{Type: BlockText, Text: choice.Content})
	}
	for _, tc := range choice.ToolCalls {
		out.Blocks = append(out.Blocks, ContentBlock{
			Type: BlockToolCall,
			ToolCall: &ToolCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}

	c.logger.Debug("chat completion",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens))

	return out, nil
}

func lastUserIndex(msgs []Message) int {
	last := -1
	for i, m := range msgs {
		if m.Role == RoleUser {
			last = i
		}
	}
	return last
}
