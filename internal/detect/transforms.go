package detect

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

// Sections is the canonical extraction output, one map per event
// section.
type Sections struct {
	Inputs   map[string]any
	Outputs  map[string]any
	Config   map[string]any
	Metadata map[string]any
}

// NewSections returns empty, initialized sections.
func NewSections() *Sections {
	return &Sections{
		Inputs:   map[string]any{},
		Outputs:  map[string]any{},
		Config:   map[string]any{},
		Metadata: map[string]any{},
	}
}

// matchValue carries what a rule's matcher found: a single attribute
// value for key/prefix rules, or the ordered indexed family for
// indexed rules.
type matchValue struct {
	value     any
	collected []indexedItem
}

// indexedItem is one member of an indexed family: gen_ai.prompt.2.role
// collects into {index: 2, fields: {"role": ...}}.
type indexedItem struct {
	index  int
	fields map[string]any
}

// transformEnv gives transforms access to the pricing table and the
// sections extracted so far (computed rules read their inputs from
// there).
type transformEnv struct {
	bundle   *bundle.Bundle
	sections *Sections
}

// applyTransform shapes a matched value. A nil return means the rule
// produced nothing and the next rule for the field should run.
func applyTransform(name string, m matchValue, env *transformEnv) any {
	switch name {
	case "direct":
		return transformDirect(m)
	case "json_parse_or_direct":
		return transformJSONParseOrDirect(m)
	case "parse_messages":
		return transformParseMessages(m)
	case "parse_flattened_messages":
		return transformParseFlattenedMessages(m)
	case "extract_content_from_messages":
		return transformExtractContent(m)
	case "extract_first_value":
		return transformExtractFirstValue(m)
	case "cost_calculate":
		return transformCostCalculate(env)
	case "finish_reason_normalize":
		return transformFinishReason(m)
	default:
		return nil
	}
}

func transformDirect(m matchValue) any {
	if m.collected != nil {
		items := make([]map[string]any, 0, len(m.collected))
		for _, item := range m.collected {
			items = append(items, unflatten(item.fields))
		}
		if len(items) == 0 {
			return nil
		}
		return items
	}
	return m.value
}

func transformJSONParseOrDirect(m matchValue) any {
	s, ok := m.value.(string)
	if !ok {
		return m.value
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return s
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return s
	}
	return parsed
}

func transformParseMessages(m matchValue) any {
	messages := coerceMessages(m.value)
	if len(messages) == 0 {
		return nil
	}
	return messages
}

func transformParseFlattenedMessages(m matchValue) any {
	if len(m.collected) == 0 {
		return nil
	}
	messages := make([]models.Message, 0, len(m.collected))
	for _, item := range m.collected {
		messages = append(messages, messageFromFields(item.fields))
	}
	return messages
}

// transformExtractContent pulls the completion text out of a message
// list: the first assistant message wins, then the first message with
// any content at all.
func transformExtractContent(m matchValue) any {
	var messages []models.Message
	if m.collected != nil {
		for _, item := range m.collected {
			messages = append(messages, messageFromFields(item.fields))
		}
	} else {
		messages = coerceMessages(m.value)
	}

	for _, msg := range messages {
		if msg.Role == models.RoleAssistant && msg.Content != "" {
			return msg.Content
		}
	}
	for _, msg := range messages {
		if msg.Content != "" {
			return msg.Content
		}
	}
	return nil
}

func transformExtractFirstValue(m matchValue) any {
	switch v := m.value.(type) {
	case []any:
		if len(v) == 0 {
			return nil
		}
		return v[0]
	case []string:
		if len(v) == 0 {
			return nil
		}
		return v[0]
	default:
		return v
	}
}

// transformCostCalculate prices the call from the model name and token
// counts already extracted into the sections. No pricing row or no
// token counts means no cost field at all; a zero would read as
// "free", which is worse than absent.
func transformCostCalculate(env *transformEnv) any {
	if env == nil || env.bundle == nil || env.sections == nil {
		return nil
	}

	model, _ := env.sections.Metadata["response_model"].(string)
	if model == "" {
		model, _ = env.sections.Config["model"].(string)
	}
	if model == "" {
		return nil
	}

	price, ok := env.bundle.PriceFor(model)
	if !ok {
		return nil
	}

	prompt, hasPrompt := toFloat(env.sections.Metadata["prompt_tokens"])
	completion, hasCompletion := toFloat(env.sections.Metadata["completion_tokens"])
	if !hasPrompt && !hasCompletion {
		return nil
	}

	return (prompt*price.Input + completion*price.Output) / 1_000_000
}

var finishReasons = map[string]string{
	"stop":              models.FinishStop,
	"end_turn":          models.FinishStop,
	"stop_sequence":     models.FinishStop,
	"eos":               models.FinishStop,
	"complete":          models.FinishStop,
	"done":              models.FinishStop,
	"length":            models.FinishLength,
	"max_tokens":        models.FinishLength,
	"max_output_tokens": models.FinishLength,
	"model_length":      models.FinishLength,
	"tool_calls":        models.FinishToolCalls,
	"tool_use":          models.FinishToolCalls,
	"tool_call":         models.FinishToolCalls,
	"function_call":     models.FinishFunctionCall,
	"content_filter":    models.FinishContentFilter,
	"content_filtered":  models.FinishContentFilter,
	"safety":            models.FinishContentFilter,
}

func transformFinishReason(m matchValue) any {
	value := m.value
	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return nil
		}
		value = v[0]
	case []string:
		if len(v) == 0 {
			return nil
		}
		value = v[0]
	}

	s, ok := value.(string)
	if !ok || s == "" {
		return nil
	}
	if canonical, ok := finishReasons[strings.ToLower(s)]; ok {
		return canonical
	}
	return models.FinishOther
}

// coerceMessages turns the shapes vendors emit into canonical
// messages: a JSON string, an already-parsed []any, an object with a
// "messages" list, or a single message object.
func coerceMessages(v any) []models.Message {
	switch value := v.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(value)
		if len(trimmed) == 0 || (trimmed[0] != '[' && trimmed[0] != '{') {
			return nil
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil
		}
		return coerceMessages(parsed)
	case []models.Message:
		return value
	case []any, map[string]any:
		if obj, ok := value.(map[string]any); ok {
			if inner, ok := obj["messages"]; ok {
				return coerceMessages(inner)
			}
			obj = unwrapMessage(obj)
			if _, ok := obj["role"]; ok {
				value = []any{obj}
			} else {
				return nil
			}
		}
		if list, ok := value.([]any); ok {
			normalized := make([]any, len(list))
			for i, item := range list {
				if obj, ok := item.(map[string]any); ok {
					normalized[i] = unwrapMessage(obj)
				} else {
					normalized[i] = item
				}
			}
			value = normalized
		}
		// JSON round trip gets vendor message shapes into the
		// canonical struct, tool-call arguments included.
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		var messages []models.Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil
		}
		return messages
	default:
		return nil
	}
}

// unwrapMessage peels the openinference {"message": {...}} envelope off
// a single entry. Plain {role, content} objects pass through untouched.
func unwrapMessage(obj map[string]any) map[string]any {
	if inner, ok := obj["message"].(map[string]any); ok {
		return inner
	}
	return obj
}

// messageFromFields builds a message from one indexed item's fields.
// openinference nests everything under "message." and tool calls under
// "tool_calls.{j}."; both layers are handled here.
func messageFromFields(fields map[string]any) models.Message {
	flat := make(map[string]any, len(fields))
	for key, value := range fields {
		flat[strings.TrimPrefix(key, "message.")] = value
	}

	msg := models.Message{}
	if role, ok := flat["role"].(string); ok {
		msg.Role = models.Role(role)
	}
	msg.Content = stringify(flat["content"])
	if id, ok := flat["tool_call_id"].(string); ok {
		msg.ToolCallID = id
	}
	if name, ok := flat["name"].(string); ok {
		msg.Name = name
	}

	calls := map[int]*models.ToolCall{}
	for key, value := range flat {
		rest, ok := strings.CutPrefix(key, "tool_calls.")
		if !ok {
			continue
		}
		idx, field, ok := splitIndex(rest)
		if !ok {
			continue
		}
		call := calls[idx]
		if call == nil {
			call = &models.ToolCall{}
			calls[idx] = call
		}
		switch field {
		case "id":
			call.ID = stringify(value)
		case "type":
			call.Type = stringify(value)
		case "name", "function.name":
			call.Function.Name = stringify(value)
		case "arguments", "function.arguments":
			call.Function.Arguments = stringify(value)
		}
	}
	if len(calls) > 0 {
		indices := make([]int, 0, len(calls))
		for idx := range calls {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			msg.ToolCalls = append(msg.ToolCalls, *calls[idx])
		}
	}

	return msg
}

// unflatten nests dotted keys into maps: {"function.name": x} becomes
// {"function": {"name": x}}. Values are never re-encoded.
func unflatten(fields map[string]any) map[string]any {
	result := make(map[string]any, len(fields))
	for key, value := range fields {
		parts := strings.Split(key, ".")
		node := result
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = value
				break
			}
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
	}
	return result
}

// splitIndex parses "{i}.rest" or a bare "{i}".
func splitIndex(s string) (int, string, bool) {
	head, rest, found := strings.Cut(s, ".")
	idx, err := strconv.Atoi(head)
	if err != nil || idx < 0 {
		return 0, "", false
	}
	if !found {
		return idx, "", true
	}
	return idx, rest, true
}

func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case float64:
		return value, true
	case string:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
