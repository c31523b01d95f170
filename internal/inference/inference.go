// Package inference builds model requests for the act/observe/extract
// pipeline and parses the structured results back into typed values. It is
// stateless: every function is a pure translation between pipeline state and
// the normalized llm request/response shapes.
package inference

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/browserpilot/browserpilot/internal/llm"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// ActStep is one executable browser step proposed by the model.
type ActStep struct {
	Method    string   `json:"method"`
	ElementID string   `json:"element"`
	Args      []string `json:"args"`
	Rationale string   `json:"rationale"`
}

// ActPlan is the model's answer to one planning round. An empty Steps list
// with Completed false signals that nothing on the visible page can advance
// the instruction.
type ActPlan struct {
	Steps     []ActStep `json:"steps"`
	Completed bool      `json:"completed"`
}

// Metadata is the extraction bookkeeping the model reports alongside the
// requested fields. It is internal to the pipeline and stripped before
// extraction results reach the caller.
type Metadata struct {
	Progress  string `json:"progress"`
	Completed bool   `json:"completed"`
}

// ObservedElement pairs a synthetic element id with a model description.
type ObservedElement struct {
	ElementID   string `json:"elementId"`
	Description string `json:"description"`
}

// Verification is the model's judgement on whether an action visibly
// completed.
type Verification struct {
	Completed bool   `json:"completed"`
	Reason    string `json:"reason"`
}

var actResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"method":    map[string]any{"type": "string"},
					"element":   map[string]any{"type": "string"},
					"args":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"rationale": map[string]any{"type": "string"},
				},
				"required": []string{"method", "element"},
			},
		},
		"completed": map[string]any{"type": "boolean"},
	},
	"required": []string{"steps", "completed"},
}

var observeResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"elements": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"elementId":   map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"elementId", "description"},
			},
		},
	},
	"required": []string{"elements"},
}

var verifyResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"completed": map[string]any{"type": "boolean"},
		"reason":    map[string]any{"type": "string"},
	},
	"required": []string{"completed"},
}

// ActParams carries one planning round's inputs.
type ActParams struct {
	Instruction       string
	DOMText           string
	StepsExecuted     []string
	PreviousSelectors []string
	VariableKeys      []string
	Chunk             int
	Chunks            int
	Model             string
	RequestID         string
	Screenshot        []byte
	ForceRefresh      bool
}

// BuildAct constructs the planning request for one act round.
func BuildAct(p ActParams) *llm.Request {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ACTION INSTRUCTION: %s\n", p.Instruction)
	if len(p.VariableKeys) > 0 {
		keys := append([]string(nil), p.VariableKeys...)
		sort.Strings(keys)
		fmt.Fprintf(&sb, "AVAILABLE VARIABLES (use as %%name%% in args): %s\n", strings.Join(keys, ", "))
	}
	if len(p.StepsExecuted) > 0 {
		sb.WriteString("STEPS ALREADY EXECUTED:\n")
		for _, s := range p.StepsExecuted {
			sb.WriteString("  " + s + "\n")
		}
	}
	if len(p.PreviousSelectors) > 0 {
		sb.WriteString("PREVIOUSLY ATTEMPTED (do not target these again):\n")
		for _, s := range p.PreviousSelectors {
			sb.WriteString("  " + s + "\n")
		}
	}
	if p.Chunks > 1 {
		fmt.Fprintf(&sb, "PAGE CHUNK: %d of %d\n", p.Chunk+1, p.Chunks)
	}

	req := &llm.Request{
		Model: p.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: strings.TrimSpace(actSystemPrompt)},
			{Role: llm.RoleUser, Content: sb.String()},
			{
				Role:         llm.RoleUser,
				Content:      "PAGE:\n" + TruncateToTokens(p.DOMText, DefaultDOMTokenBudget),
				IsDOMContent: true,
			},
		},
		Temperature:    0.1,
		ResponseSchema: actResponseSchema,
		SchemaName:     "propose_steps",
		RequestID:      p.RequestID,
		ForceRefresh:   p.ForceRefresh,
	}
	if len(p.Screenshot) > 0 {
		req.Image = &llm.Image{Data: p.Screenshot, MediaType: "image/jpeg"}
	}
	return req
}

// ParseAct decodes a planning response.
func ParseAct(resp *llm.Response) (*ActPlan, error) {
	raw, err := resp.Structured()
	if err != nil {
		return nil, fmt.Errorf("inference: act response: %w", err)
	}
	var plan ActPlan
	if err := jsonit.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("inference: decode act plan: %w | content: %s", err, string(raw))
	}
	return &plan, nil
}

// ExtractParams carries one chunk's extraction inputs.
type ExtractParams struct {
	Instruction     string
	Progress        string
	PreviousContent map[string]any
	DOMText         string
	Schema          map[string]any
	Chunk           int
	Chunks          int
	ChunksSeen      int
	Model           string
	RequestID       string
}

// BuildExtract constructs the extraction request for one chunk. The chunk
// position and remaining count are written into the prompt so the model can
// decide whether extraction is complete.
func BuildExtract(p ExtractParams) *llm.Request {
	var sb strings.Builder
	fmt.Fprintf(&sb, "EXTRACTION INSTRUCTION: %s\n", p.Instruction)
	fmt.Fprintf(&sb, "CHUNK: %d of %d (%d seen so far, %d remaining after this one)\n",
		p.Chunk+1, p.Chunks, p.ChunksSeen, p.Chunks-p.ChunksSeen-1)
	if p.Progress != "" {
		fmt.Fprintf(&sb, "PROGRESS SO FAR: %s\n", p.Progress)
	}
	if len(p.PreviousContent) > 0 {
		if prev, err := jsonit.Marshal(p.PreviousContent); err == nil {
			fmt.Fprintf(&sb, "PREVIOUSLY EXTRACTED CONTENT:\n%s\n", string(prev))
		}
	}

	return &llm.Request{
		Model: p.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: strings.TrimSpace(extractSystemPrompt)},
			{Role: llm.RoleUser, Content: sb.String()},
			{
				Role:         llm.RoleUser,
				Content:      "PAGE CONTENT:\n" + TruncateToTokens(p.DOMText, DefaultDOMTokenBudget),
				IsDOMContent: true,
			},
		},
		Temperature:    0.1,
		ResponseSchema: wrapExtractionSchema(p.Schema),
		SchemaName:     "extract_data",
		RequestID:      p.RequestID,
	}
}

// wrapExtractionSchema adds the internal metadata object to the caller's
// schema.
func wrapExtractionSchema(callerSchema map[string]any) map[string]any {
	props := map[string]any{}
	var required []string
	if callerSchema != nil {
		if p, ok := callerSchema["properties"].(map[string]any); ok {
			for k, v := range p {
				props[k] = v
			}
		}
		switch r := callerSchema["required"].(type) {
		case []string:
			required = append(required, r...)
		case []any:
			for _, v := range r {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	props["metadata"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"progress":  map[string]any{"type": "string"},
			"completed": map[string]any{"type": "boolean"},
		},
		"required": []string{"completed"},
	}
	required = append(required, "metadata")
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ParseExtract decodes one chunk's extraction response into the caller
// fields and the internal metadata.
func ParseExtract(resp *llm.Response) (map[string]any, Metadata, error) {
	raw, err := resp.Structured()
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("inference: extract response: %w", err)
	}
	var fields map[string]any
	if err := jsonit.Unmarshal(raw, &fields); err != nil {
		return nil, Metadata{}, fmt.Errorf("inference: decode extraction: %w", err)
	}

	var meta Metadata
	if rawMeta, ok := fields["metadata"]; ok {
		if encoded, err := jsonit.Marshal(rawMeta); err == nil {
			_ = jsonit.Unmarshal(encoded, &meta)
		}
		delete(fields, "metadata")
	}
	return fields, meta, nil
}

// ObserveParams carries one observation's inputs.
type ObserveParams struct {
	Instruction string
	DOMText     string
	Model       string
	RequestID   string
	Screenshot  []byte
}

// BuildObserve constructs the observation request.
func BuildObserve(p ObserveParams) *llm.Request {
	instruction := p.Instruction
	if instruction == "" {
		instruction = "Find actionable elements relevant to automating this page."
	}

	req := &llm.Request{
		Model: p.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: strings.TrimSpace(observeSystemPrompt)},
			{Role: llm.RoleUser, Content: "OBSERVATION INSTRUCTION: " + instruction},
			{
				Role:         llm.RoleUser,
				Content:      "PAGE:\n" + TruncateToTokens(p.DOMText, DefaultDOMTokenBudget),
				IsDOMContent: true,
			},
		},
		Temperature:    0.1,
		ResponseSchema: observeResponseSchema,
		SchemaName:     "report_elements",
		RequestID:      p.RequestID,
	}
	if len(p.Screenshot) > 0 {
		req.Image = &llm.Image{Data: p.Screenshot, MediaType: "image/jpeg"}
	}
	return req
}

// ParseObserve decodes an observation response into the ordered element
// list. Validation against the snapshot's selector map is the caller's job;
// this function only guarantees shape.
func ParseObserve(resp *llm.Response) ([]ObservedElement, error) {
	raw, err := resp.Structured()
	if err != nil {
		return nil, fmt.Errorf("inference: observe response: %w", err)
	}
	var out struct {
		Elements []ObservedElement `json:"elements"`
	}
	if err := jsonit.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("inference: decode observation: %w", err)
	}
	return out.Elements, nil
}

// VerifyParams carries the inputs of a completion check.
type VerifyParams struct {
	Instruction   string
	StepsExecuted []string
	DOMText       string
	Model         string
	RequestID     string
	Screenshot    []byte
}

// BuildVerify constructs the completion-check request used by the act
// handler's verifying state.
func BuildVerify(p VerifyParams) *llm.Request {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ACTION INSTRUCTION: %s\n", p.Instruction)
	if len(p.StepsExecuted) > 0 {
		sb.WriteString("STEPS EXECUTED:\n")
		for _, s := range p.StepsExecuted {
			sb.WriteString("  " + s + "\n")
		}
	}

	req := &llm.Request{
		Model: p.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: strings.TrimSpace(verifySystemPrompt)},
			{Role: llm.RoleUser, Content: sb.String()},
			{
				Role:         llm.RoleUser,
				Content:      "CURRENT PAGE:\n" + TruncateToTokens(p.DOMText, DefaultDOMTokenBudget),
				IsDOMContent: true,
			},
		},
		Temperature:    0,
		ResponseSchema: verifyResponseSchema,
		SchemaName:     "report_completion",
		RequestID:      p.RequestID,
	}
	if len(p.Screenshot) > 0 {
		req.Image = &llm.Image{Data: p.Screenshot, MediaType: "image/jpeg"}
	}
	return req
}

// ParseVerify decodes a completion-check response.
func ParseVerify(resp *llm.Response) (*Verification, error) {
	raw, err := resp.Structured()
	if err != nil {
		return nil, fmt.Errorf("inference: verify response: %w", err)
	}
	var v Verification
	if err := jsonit.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("inference: decode verification: %w", err)
	}
	return &v, nil
}
