package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredPrefersToolCall(t *testing.T) {
	resp := &Response{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "calling the tool now"},
			{Type: BlockToolCall, ToolCall: &ToolCall{
				Name:      "propose_steps",
				Arguments: json.RawMessage(`{"steps":[],"completed":true}`),
			}},
		},
	}
	raw, err := resp.Structured()
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[],"completed":true}`, string(raw))
}

func TestStructuredStripsCodeFence(t *testing.T) {
	resp := &Response{
		Role:   RoleAssistant,
		Blocks: []ContentBlock{{Type: BlockText, Text: "```json\n{\"completed\":false}\n```"}},
	}
	raw, err := resp.Structured()
	require.NoError(t, err)
	assert.JSONEq(t, `{"completed":false}`, string(raw))
}

func TestStructuredRejectsNonObject(t *testing.T) {
	resp := &Response{
		Role:   RoleAssistant,
		Blocks: []ContentBlock{{Type: BlockText, Text: "sure, clicking the button"}},
	}
	_, err := resp.Structured()
	assert.Error(t, err)
}

func TestStructuredRejectsEmptyToolArguments(t *testing.T) {
	resp := &Response{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockToolCall, ToolCall: &ToolCall{Name: "propose_steps"}},
		},
	}
	_, err := resp.Structured()
	assert.Error(t, err)
}

func TestTextConcatenatesTextBlocks(t *testing.T) {
	resp := &Response{
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "part one "},
			{Type: BlockToolCall, ToolCall: &ToolCall{Name: "x", Arguments: json.RawMessage(`{}`)}},
			{Type: BlockText, Text: "part two"},
		},
	}
	assert.Equal(t, "part one part two", resp.Text())
}

func TestSupportsVision(t *testing.T) {
	assert.True(t, SupportsVision("gpt-4o"))
	assert.True(t, SupportsVision("claude-3-5-sonnet-latest"))
	assert.False(t, SupportsVision("gpt-3.5-turbo"))
	assert.False(t, SupportsVision(""))
}

func TestProviderFor(t *testing.T) {
	assert.Equal(t, "anthropic", ProviderFor("claude-3-5-sonnet-latest"))
	assert.Equal(t, "openai", ProviderFor("gpt-4o"))
}
