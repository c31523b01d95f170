package inference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserpilot/browserpilot/internal/llm"
)

func structuredResponse(payload string) *llm.Response {
	return &llm.Response{
		Role:   llm.RoleAssistant,
		Blocks: []llm.ContentBlock{{Type: llm.BlockText, Text: payload}},
	}
}

func toolResponse(name, payload string) *llm.Response {
	return &llm.Response{
		Role: llm.RoleAssistant,
		Blocks: []llm.ContentBlock{{
			Type:     llm.BlockToolCall,
			ToolCall: &llm.ToolCall{Name: name, Arguments: json.RawMessage(payload)},
		}},
	}
}

func TestBuildActMessageShape(t *testing.T) {
	req := BuildAct(ActParams{
		Instruction:       "log in",
		DOMText:           "[1] <button label=\"Login\">",
		StepsExecuted:     []string{"click xpath=//a[1] []"},
		PreviousSelectors: []string{"xpath=//div[3]"},
		VariableKeys:      []string{"password", "username"},
		Chunk:             1,
		Chunks:            3,
		Model:             "gpt-4o",
		RequestID:         "req-1",
	})

	require.Len(t, req.Messages, 3)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.False(t, req.Messages[0].IsDOMContent)

	user := req.Messages[1].Content
	assert.Contains(t, user, "ACTION INSTRUCTION: log in")
	assert.Contains(t, user, "%name%")
	assert.Contains(t, user, "password, username")
	assert.Contains(t, user, "PREVIOUSLY ATTEMPTED")
	assert.Contains(t, user, "xpath=//div[3]")
	assert.Contains(t, user, "PAGE CHUNK: 2 of 3")

	assert.True(t, req.Messages[2].IsDOMContent)
	assert.Contains(t, req.Messages[2].Content, "[1] <button")

	assert.Equal(t, float32(0.1), req.Temperature)
	assert.Equal(t, "propose_steps", req.SchemaName)
	assert.NotNil(t, req.ResponseSchema)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Nil(t, req.Image)
}

func TestBuildActVariableKeysSorted(t *testing.T) {
	req := BuildAct(ActParams{
		Instruction:  "fill the form",
		VariableKeys: []string{"zip", "address", "name"},
		Model:        "gpt-4o",
	})
	assert.Contains(t, req.Messages[1].Content, "address, name, zip")
}

func TestBuildActAttachesScreenshot(t *testing.T) {
	req := BuildAct(ActParams{
		Instruction: "click",
		Model:       "gpt-4o",
		Screenshot:  []byte{0xff, 0xd8},
	})
	require.NotNil(t, req.Image)
	assert.Equal(t, "image/jpeg", req.Image.MediaType)
}

func TestParseAct(t *testing.T) {
	plan, err := ParseAct(structuredResponse(`{
		"steps": [{"method": "click", "element": "7", "args": [], "rationale": "login button"}],
		"completed": true
	}`))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "click", plan.Steps[0].Method)
	assert.Equal(t, "7", plan.Steps[0].ElementID)
	assert.True(t, plan.Completed)
}

func TestParseActToolCall(t *testing.T) {
	plan, err := ParseAct(toolResponse("propose_steps", `{"steps":[],"completed":false}`))
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
	assert.False(t, plan.Completed)
}

func TestParseActMalformed(t *testing.T) {
	_, err := ParseAct(structuredResponse("I could not decide"))
	assert.Error(t, err)
}

func TestWrapExtractionSchemaInjectsMetadata(t *testing.T) {
	wrapped := wrapExtractionSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"price": map[string]any{"type": "number"}},
		"required":   []string{"price"},
	})

	props, ok := wrapped["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "price")
	assert.Contains(t, props, "metadata")

	required, ok := wrapped["required"].([]string)
	require.True(t, ok)
	assert.Contains(t, required, "price")
	assert.Contains(t, required, "metadata")
}

func TestWrapExtractionSchemaNilCallerSchema(t *testing.T) {
	wrapped := wrapExtractionSchema(nil)
	props, ok := wrapped["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "metadata")
}

func TestBuildExtractPromptCarriesChunkState(t *testing.T) {
	req := BuildExtract(ExtractParams{
		Instruction:     "collect all prices",
		Progress:        "two rows so far",
		PreviousContent: map[string]any{"prices": []any{1.0}},
		DOMText:         "row content",
		Chunk:           2,
		Chunks:          5,
		ChunksSeen:      2,
		Model:           "gpt-4o",
	})

	user := req.Messages[1].Content
	assert.Contains(t, user, "CHUNK: 3 of 5")
	assert.Contains(t, user, "PROGRESS SO FAR: two rows so far")
	assert.Contains(t, user, "PREVIOUSLY EXTRACTED CONTENT")
	assert.True(t, req.Messages[2].IsDOMContent)
	assert.Equal(t, "extract_data", req.SchemaName)
}

func TestParseExtractPopsMetadata(t *testing.T) {
	fields, meta, err := ParseExtract(structuredResponse(`{
		"price": 9.99,
		"metadata": {"progress": "done with the list", "completed": true}
	}`))
	require.NoError(t, err)
	assert.NotContains(t, fields, "metadata")
	assert.InDelta(t, 9.99, fields["price"].(float64), 0.001)
	assert.True(t, meta.Completed)
	assert.Equal(t, "done with the list", meta.Progress)
}

func TestParseExtractWithoutMetadata(t *testing.T) {
	fields, meta, err := ParseExtract(structuredResponse(`{"price": 1}`))
	require.NoError(t, err)
	assert.Contains(t, fields, "price")
	assert.False(t, meta.Completed)
}

func TestBuildObserveDefaultInstruction(t *testing.T) {
	req := BuildObserve(ObserveParams{DOMText: "page", Model: "gpt-4o"})
	assert.Contains(t, req.Messages[1].Content, "Find actionable elements")
}

func TestParseObserve(t *testing.T) {
	elements, err := ParseObserve(structuredResponse(`{
		"elements": [
			{"elementId": "3", "description": "search box"},
			{"elementId": "9", "description": "submit button"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "3", elements[0].ElementID)
	assert.Equal(t, "submit button", elements[1].Description)
}

func TestBuildVerifyAndParse(t *testing.T) {
	req := BuildVerify(VerifyParams{
		Instruction:   "log in",
		StepsExecuted: []string{"click xpath=//button[1] []"},
		DOMText:       "Welcome back",
		Model:         "gpt-4o",
	})
	assert.Equal(t, "report_completion", req.SchemaName)
	assert.Equal(t, float32(0), req.Temperature)
	assert.Contains(t, req.Messages[1].Content, "STEPS EXECUTED")

	v, err := ParseVerify(structuredResponse(`{"completed": true, "reason": "dashboard is visible"}`))
	require.NoError(t, err)
	assert.True(t, v.Completed)
	assert.Equal(t, "dashboard is visible", v.Reason)
}
