package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tranvh/contextgate/pkg/models"
)

func TestCollectAssemblesResponse(t *testing.T) {
	ch := make(chan Chunk, 8)
	ch <- Chunk{Type: ChunkText, Text: "Hello, "}
	ch <- Chunk{Type: ChunkText, Text: "world"}
	ch <- Chunk{Type: ChunkToolCall, ToolCall: &models.ToolCall{
		ID:    "call_1",
		Name:  "get_weather",
		Input: json.RawMessage(`{"city":"Hanoi"}`),
	}}
	ch <- Chunk{Type: ChunkDone, StopReason: StopToolUse, Usage: &Usage{InputTokens: 10, OutputTokens: 5}}
	close(ch)

	resp, err := collect(ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Hello, world" {
		t.Errorf("Text = %q, want %q", resp.Text, "Hello, world")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_weather" {
		t.Errorf("ToolCalls = %+v, want one get_weather call", resp.ToolCalls)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, StopToolUse)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v, want {10 5}", resp.Usage)
	}
}

func TestCollectPropagatesError(t *testing.T) {
	streamErr := errors.New("stream broke")
	ch := make(chan Chunk, 2)
	ch <- Chunk{Type: ChunkText, Text: "partial"}
	ch <- Chunk{Type: ChunkError, Err: streamErr}
	close(ch)

	_, err := collect(ch)
	if !errors.Is(err, streamErr) {
		t.Fatalf("err = %v, want the stream error", err)
	}
}

func TestAppendToolResults(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "What's the weather in Hanoi?"},
	}
	call := models.ToolCall{
		ID:    "call_1",
		Name:  "get_weather",
		Input: json.RawMessage(`{"city":"Hanoi"}`),
	}
	results := []models.ToolResult{
		{ToolCallID: "call_1", Content: `{"temp_c":31}`},
	}

	out := appendToolResults(history, call, results)

	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if len(history) != 1 {
		t.Error("history must not be mutated")
	}

	assistant := out[1]
	if assistant.Role != models.RoleAssistant {
		t.Errorf("out[1].Role = %q, want assistant", assistant.Role)
	}
	if len(assistant.Blocks) != 1 || assistant.Blocks[0].Type != models.BlockToolUse {
		t.Fatalf("out[1] should replay the tool call, got %+v", assistant.Blocks)
	}
	if assistant.Blocks[0].ToolCall.ID != "call_1" {
		t.Errorf("replayed call ID = %q, want call_1", assistant.Blocks[0].ToolCall.ID)
	}

	tool := out[2]
	if tool.Role != models.RoleTool {
		t.Errorf("out[2].Role = %q, want tool", tool.Role)
	}
	if len(tool.Blocks) != 1 || tool.Blocks[0].Type != models.BlockToolResult {
		t.Fatalf("out[2] should carry the result, got %+v", tool.Blocks)
	}
	if tool.Blocks[0].ToolResult.ToolCallID != "call_1" {
		t.Errorf("result links to %q, want call_1", tool.Blocks[0].ToolResult.ToolCallID)
	}
}

func TestOpenAIConvertMessages(t *testing.T) {
	p := &OpenAI{cfg: Config{APIKey: "test", Model: openAIDefaultModel}}

	call := models.ToolCall{ID: "call_1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)}
	history := appendToolResults(
		[]models.Message{{Role: models.RoleUser, Content: "find go docs"}},
		call,
		[]models.ToolResult{{ToolCallID: "call_1", Content: "golang.org"}},
	)

	out, err := p.convertMessages(history, "You are terse.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// system + user + assistant(tool call) + tool result
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "You are terse." {
		t.Errorf("out[0] = %+v, want injected system message", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "search" {
		t.Errorf("out[2] should carry the tool call, got %+v", out[2])
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "call_1" {
		t.Errorf("out[3] = %+v, want tool message linked to call_1", out[3])
	}
}

func TestEmitToolCallsSparseIndices(t *testing.T) {
	// GPT keys tool-call deltas by index with no contiguity guarantee; a
	// sparse index set must still flush every complete call, in order.
	calls := map[int]*models.ToolCall{
		3: {ID: "call_b", Name: "lookup", Input: json.RawMessage(`{"q":"go"}`)},
		1: {ID: "call_a", Name: "get_weather"},
		5: {Name: "incomplete"}, // never received an ID
	}

	chunks := make(chan Chunk, 4)
	emitToolCalls(chunks, calls)
	close(chunks)

	var got []Chunk
	for c := range chunks {
		got = append(got, c)
	}
	if len(got) != 2 {
		t.Fatalf("emitted %d calls, want 2", len(got))
	}
	if got[0].ToolCall.ID != "call_a" || got[1].ToolCall.ID != "call_b" {
		t.Errorf("order = %q, %q, want call_a then call_b", got[0].ToolCall.ID, got[1].ToolCall.ID)
	}
	if string(got[0].ToolCall.Input) != "{}" {
		t.Errorf("empty arguments = %q, want {}", got[0].ToolCall.Input)
	}
}

func TestToolNameFromID(t *testing.T) {
	messages := []models.Message{
		{
			Role: models.RoleAssistant,
			Blocks: []models.ContentBlock{
				{Type: models.BlockToolUse, ToolCall: &models.ToolCall{ID: "call_abc", Name: "lookup"}},
			},
		},
	}

	if got := toolNameFromID("call_abc", messages); got != "lookup" {
		t.Errorf("history lookup = %q, want lookup", got)
	}
	// Falls back to parsing the synthesized ID format.
	if got := toolNameFromID("call_weather_12345", nil); got != "weather" {
		t.Errorf("ID fallback = %q, want weather", got)
	}
	if got := toolNameFromID("nonsense", nil); got != "" {
		t.Errorf("unparseable ID = %q, want empty", got)
	}
}

func TestToGeminiSchema(t *testing.T) {
	schema := toGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{
				"type":        "string",
				"description": "City name",
			},
			"units": map[string]any{
				"type": "string",
				"enum": []any{"metric", "imperial"},
			},
		},
		"required": []any{"city"},
	})

	if schema.Type != "OBJECT" {
		t.Errorf("Type = %q, want OBJECT", schema.Type)
	}
	if len(schema.Properties) != 2 {
		t.Fatalf("Properties = %d entries, want 2", len(schema.Properties))
	}
	if schema.Properties["city"].Description != "City name" {
		t.Errorf("city description = %q", schema.Properties["city"].Description)
	}
	if len(schema.Properties["units"].Enum) != 2 {
		t.Errorf("units enum = %v, want 2 values", schema.Properties["units"].Enum)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "city" {
		t.Errorf("Required = %v, want [city]", schema.Required)
	}
}
