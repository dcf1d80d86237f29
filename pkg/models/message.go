package models

import (
	"bytes"
	"encoding/json"
)

// Role indicates the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the normalized chat message shape. All three supported
// instrumentors ultimately reduce to this: traceloop's indexed
// gen_ai.prompt.{i}.* attributes, openinference's JSON-encoded
// llm.input_messages, and openlit's prompt capture.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the optional participant or function name.
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts both string content and structured content
// blocks. Anthropic-style messages carry content as a block array;
// those are kept verbatim as their JSON text rather than rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	shadow := struct {
		Content json.RawMessage `json:"content"`
		*alias
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}

	raw := bytes.TrimSpace(shadow.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		m.Content = ""
	case raw[0] == '"':
		return json.Unmarshal(raw, &m.Content)
	default:
		m.Content = string(raw)
	}
	return nil
}

// ToolCall is an LLM's request to execute a function.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its arguments.
type FunctionCall struct {
	Name string `json:"name"`

	// Arguments is the raw JSON argument string exactly as the vendor
	// emitted it. It is never re-parsed or re-encoded: malformed
	// vendor JSON must survive the round trip for debugging.
	Arguments string `json:"arguments"`
}

// UnmarshalJSON keeps argument text intact whether the vendor emitted
// a JSON-encoded string or an already-parsed object.
func (f *FunctionCall) UnmarshalJSON(data []byte) error {
	shadow := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	f.Name = shadow.Name

	raw := bytes.TrimSpace(shadow.Arguments)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		f.Arguments = ""
	case raw[0] == '"':
		return json.Unmarshal(raw, &f.Arguments)
	default:
		f.Arguments = string(raw)
	}
	return nil
}

// FinishReason values normalized from vendor stop/finish fields.
// function_call is kept distinct from tool_calls for legacy OpenAI
// responses; anything unrecognized maps to other.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
	FinishFunctionCall  = "function_call"
	FinishOther         = "other"
)
