package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_ParseOpenAIShape(t *testing.T) {
	// The wire shape the openai-family instrumentors emit for an
	// assistant turn that requested a tool.
	payload := `{
		"role": "assistant",
		"content": "",
		"tool_calls": [{
			"id": "call_abc123",
			"type": "function",
			"function": {"name": "get_weather", "arguments": "{\"city\": \"Paris\"}"}
		}]
	}`

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if msg.Role != RoleAssistant {
		t.Errorf("Role = %q, want %q", msg.Role, RoleAssistant)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("ToolCalls length = %d, want 1", len(msg.ToolCalls))
	}
	tc := msg.ToolCalls[0]
	if tc.ID != "call_abc123" {
		t.Errorf("ID = %q, want %q", tc.ID, "call_abc123")
	}
	if tc.Function.Name != "get_weather" {
		t.Errorf("Function.Name = %q, want %q", tc.Function.Name, "get_weather")
	}
	// Arguments must survive as the raw vendor string.
	if tc.Function.Arguments != `{"city": "Paris"}` {
		t.Errorf("Function.Arguments = %q, want raw JSON string", tc.Function.Arguments)
	}
}

func TestMessage_ToolResultLinkage(t *testing.T) {
	msg := Message{
		Role:       RoleTool,
		Content:    "18°C, clear",
		ToolCallID: "call_abc123",
		Name:       "get_weather",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.ToolCallID != "call_abc123" {
		t.Errorf("ToolCallID = %q, want %q", decoded.ToolCallID, "call_abc123")
	}
	if decoded.Name != "get_weather" {
		t.Errorf("Name = %q, want %q", decoded.Name, "get_weather")
	}
}

func TestFinishReason_Constants(t *testing.T) {
	tests := []struct {
		constant string
		expected string
	}{
		{FinishStop, "stop"},
		{FinishLength, "length"},
		{FinishToolCalls, "tool_calls"},
		{FinishContentFilter, "content_filter"},
		{FinishFunctionCall, "function_call"},
		{FinishOther, "other"},
	}

	for _, tt := range tests {
		if tt.constant != tt.expected {
			t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
		}
	}
}
