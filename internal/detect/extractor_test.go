package detect

import (
	"math"
	"testing"

	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testBundle(t), nil)
}

func TestExtractTraceloopOpenAI(t *testing.T) {
	engine := testEngine(t)

	attrs := map[string]any{
		"gen_ai.system":                     "openai",
		"gen_ai.request.model":              "gpt-4o-mini",
		"gen_ai.request.temperature":        0.2,
		"gen_ai.request.max_tokens":         256,
		"gen_ai.prompt.0.role":              "system",
		"gen_ai.prompt.0.content":           "You are terse.",
		"gen_ai.prompt.1.role":              "user",
		"gen_ai.prompt.1.content":           "What is the capital of France?",
		"gen_ai.completion.0.role":          "assistant",
		"gen_ai.completion.0.content":       "Paris.",
		"gen_ai.completion.0.finish_reason": "stop",
		"gen_ai.usage.prompt_tokens":        19,
		"gen_ai.usage.completion_tokens":    4,
		"gen_ai.usage.total_tokens":         23,
		"gen_ai.response.model":             "gpt-4o-mini-2024-07-18",
		"gen_ai.openai.system_fingerprint":  "fp_abc123",
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorTraceloop, Provider: "openai"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	history, ok := sections.Inputs["chat_history"].([]models.Message)
	if !ok {
		t.Fatalf("Inputs[chat_history] = %T, want []models.Message", sections.Inputs["chat_history"])
	}
	if len(history) != 2 {
		t.Fatalf("len(chat_history) = %d, want 2", len(history))
	}
	if history[0].Role != models.RoleSystem || history[0].Content != "You are terse." {
		t.Errorf("chat_history[0] = %+v, want system message", history[0])
	}
	if history[1].Role != models.RoleUser {
		t.Errorf("chat_history[1].Role = %q, want %q", history[1].Role, models.RoleUser)
	}

	if got := sections.Outputs["content"]; got != "Paris." {
		t.Errorf("Outputs[content] = %v, want %q", got, "Paris.")
	}
	if got := sections.Outputs["finish_reason"]; got != models.FinishStop {
		t.Errorf("Outputs[finish_reason] = %v, want %q", got, models.FinishStop)
	}
	if got := sections.Outputs["role"]; got != "assistant" {
		t.Errorf("Outputs[role] = %v, want %q", got, "assistant")
	}

	if got := sections.Config["model"]; got != "gpt-4o-mini" {
		t.Errorf("Config[model] = %v, want %q", got, "gpt-4o-mini")
	}
	if got := sections.Config["temperature"]; got != 0.2 {
		t.Errorf("Config[temperature] = %v, want 0.2", got)
	}

	if got := sections.Metadata["prompt_tokens"]; got != 19 {
		t.Errorf("Metadata[prompt_tokens] = %v, want 19", got)
	}
	if got := sections.Metadata["response_model"]; got != "gpt-4o-mini-2024-07-18" {
		t.Errorf("Metadata[response_model] = %v, want %q", got, "gpt-4o-mini-2024-07-18")
	}
	if got := sections.Metadata["system_fingerprint"]; got != "fp_abc123" {
		t.Errorf("Metadata[system_fingerprint] = %v, want %q", got, "fp_abc123")
	}

	// gpt-4o-mini pricing applies to the dated response model by
	// prefix: (19*0.15 + 4*0.60) per million tokens.
	wantCost := (19*0.15 + 4*0.60) / 1_000_000
	cost, ok := sections.Metadata["cost"].(float64)
	if !ok {
		t.Fatalf("Metadata[cost] = %T, want float64", sections.Metadata["cost"])
	}
	if math.Abs(cost-wantCost) > 1e-12 {
		t.Errorf("Metadata[cost] = %v, want %v", cost, wantCost)
	}
}

func TestExtractTraceloopToolCalls(t *testing.T) {
	engine := testEngine(t)

	rawArgs := `{"city": "Paris", "units": "metric"}`
	attrs := map[string]any{
		"gen_ai.system":                              "openai",
		"gen_ai.request.model":                       "gpt-4o",
		"gen_ai.completion.0.role":                   "assistant",
		"gen_ai.completion.0.finish_reason":          "tool_calls",
		"gen_ai.completion.0.tool_calls.0.id":        "call_1",
		"gen_ai.completion.0.tool_calls.0.name":      "get_weather",
		"gen_ai.completion.0.tool_calls.0.arguments": rawArgs,
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorTraceloop, Provider: "openai"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	calls, ok := sections.Outputs["tool_calls"].([]map[string]any)
	if !ok {
		t.Fatalf("Outputs[tool_calls] = %T, want []map[string]any", sections.Outputs["tool_calls"])
	}
	if len(calls) != 1 {
		t.Fatalf("len(tool_calls) = %d, want 1", len(calls))
	}
	if calls[0]["name"] != "get_weather" {
		t.Errorf("tool_calls[0][name] = %v, want %q", calls[0]["name"], "get_weather")
	}
	// Argument text must survive byte for byte.
	if calls[0]["arguments"] != rawArgs {
		t.Errorf("tool_calls[0][arguments] = %v, want %q", calls[0]["arguments"], rawArgs)
	}

	if got := sections.Outputs["finish_reason"]; got != models.FinishToolCalls {
		t.Errorf("Outputs[finish_reason] = %v, want %q", got, models.FinishToolCalls)
	}
}

func TestExtractOpenInference(t *testing.T) {
	engine := testEngine(t)

	attrs := map[string]any{
		"llm.provider":                          "anthropic",
		"llm.model_name":                        "claude-sonnet-4-20250514",
		"llm.invocation_parameters":             `{"temperature": 0.7, "max_tokens": 1024}`,
		"llm.input_messages.0.message.role":     "user",
		"llm.input_messages.0.message.content":  "Summarize the report.",
		"llm.output_messages.0.message.role":    "assistant",
		"llm.output_messages.0.message.content": "The report concludes...",
		"llm.token_count.prompt":                412,
		"llm.token_count.completion":            98,
		"llm.token_count.total":                 510,
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorOpenInference, Provider: "anthropic"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	history, ok := sections.Inputs["chat_history"].([]models.Message)
	if !ok || len(history) != 1 {
		t.Fatalf("Inputs[chat_history] = %v, want one message", sections.Inputs["chat_history"])
	}
	if history[0].Content != "Summarize the report." {
		t.Errorf("chat_history[0].Content = %q, want %q", history[0].Content, "Summarize the report.")
	}

	if got := sections.Outputs["content"]; got != "The report concludes..." {
		t.Errorf("Outputs[content] = %v, want %q", got, "The report concludes...")
	}

	params, ok := sections.Config["parameters"].(map[string]any)
	if !ok {
		t.Fatalf("Config[parameters] = %T, want map[string]any", sections.Config["parameters"])
	}
	if params["temperature"] != 0.7 {
		t.Errorf("parameters[temperature] = %v, want 0.7", params["temperature"])
	}

	if got := sections.Config["model"]; got != "claude-sonnet-4-20250514" {
		t.Errorf("Config[model] = %v, want %q", got, "claude-sonnet-4-20250514")
	}
	if got := sections.Metadata["prompt_tokens"]; got != 412 {
		t.Errorf("Metadata[prompt_tokens] = %v, want 412", got)
	}

	wantCost := (412*3.00 + 98*15.00) / 1_000_000
	cost, ok := sections.Metadata["cost"].(float64)
	if !ok {
		t.Fatalf("Metadata[cost] = %T, want float64", sections.Metadata["cost"])
	}
	if math.Abs(cost-wantCost) > 1e-12 {
		t.Errorf("Metadata[cost] = %v, want %v", cost, wantCost)
	}
}

func TestExtractOpenInferenceJSONFallback(t *testing.T) {
	engine := testEngine(t)

	// No flattened messages: input.value and output.value carry the
	// whole request and response as JSON.
	attrs := map[string]any{
		"llm.provider":   "anthropic",
		"llm.model_name": "claude-sonnet-4",
		"input.value":    `{"messages": [{"role": "user", "content": "Hello"}]}`,
		"output.value":   `{"role": "assistant", "content": "Hi there"}`,
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorOpenInference, Provider: "anthropic"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	history, ok := sections.Inputs["chat_history"].([]models.Message)
	if !ok || len(history) != 1 {
		t.Fatalf("Inputs[chat_history] = %v, want one message", sections.Inputs["chat_history"])
	}
	if history[0].Role != models.RoleUser || history[0].Content != "Hello" {
		t.Errorf("chat_history[0] = %+v, want user Hello", history[0])
	}

	if got := sections.Outputs["content"]; got != "Hi there" {
		t.Errorf("Outputs[content] = %v, want %q", got, "Hi there")
	}
}

func TestExtractOpenLIT(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name     string
		attrs    map[string]any
		wantCost float64
	}{
		{
			name: "vendor cost wins",
			attrs: map[string]any{
				"openlit.provider":            "gemini",
				"openlit.model":               "gemini-2.0-flash",
				"openlit.input_messages":      `[{"role":"user","content":"Translate hello to French"}]`,
				"openlit.output.content":      "bonjour",
				"openlit.finish_reason":       "stop",
				"openlit.usage.input_tokens":  8,
				"openlit.usage.output_tokens": 2,
				"openlit.usage.cost":          0.000123,
			},
			wantCost: 0.000123,
		},
		{
			name: "computed cost fills the gap",
			attrs: map[string]any{
				"openlit.provider":            "gemini",
				"openlit.model":               "gemini-2.0-flash",
				"openlit.input_messages":      `[{"role":"user","content":"Translate hello to French"}]`,
				"openlit.output.content":      "bonjour",
				"openlit.usage.input_tokens":  8,
				"openlit.usage.output_tokens": 2,
			},
			wantCost: (8*0.10 + 2*0.40) / 1_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sections, err := engine.Extract(tt.attrs, Result{Instrumentor: InstrumentorOpenLIT, Provider: "google"})
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}

			history, ok := sections.Inputs["chat_history"].([]models.Message)
			if !ok || len(history) != 1 {
				t.Fatalf("Inputs[chat_history] = %#v, want one parsed message", sections.Inputs["chat_history"])
			}
			if history[0].Role != "user" || history[0].Content != "Translate hello to French" {
				t.Errorf("chat_history[0] = %+v", history[0])
			}

			if got := sections.Config["model"]; got != "gemini-2.0-flash" {
				t.Errorf("Config[model] = %v, want gemini-2.0-flash", got)
			}
			if got := sections.Outputs["content"]; got != "bonjour" {
				t.Errorf("Outputs[content] = %v, want bonjour", got)
			}

			cost, ok := sections.Metadata["cost"].(float64)
			if !ok {
				t.Fatalf("Metadata[cost] = %T, want float64", sections.Metadata["cost"])
			}
			if math.Abs(cost-tt.wantCost) > 1e-12 {
				t.Errorf("Metadata[cost] = %v, want %v", cost, tt.wantCost)
			}
		})
	}
}

func TestExtractOpenLITLegacyKeys(t *testing.T) {
	engine := testEngine(t)

	// Older openlit releases emitted request.model and a plain prompt
	// string; the trailing rules for each field still pick those up.
	attrs := map[string]any{
		"openlit.provider":            "gemini",
		"openlit.request.model":       "gemini-2.0-flash",
		"openlit.prompt":              "Translate hello to French",
		"openlit.completion":          "bonjour",
		"openlit.usage.input_tokens":  8,
		"openlit.usage.output_tokens": 2,
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorOpenLIT, Provider: "google"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if got := sections.Config["model"]; got != "gemini-2.0-flash" {
		t.Errorf("Config[model] = %v, want gemini-2.0-flash", got)
	}
	if got := sections.Inputs["prompt"]; got != "Translate hello to French" {
		t.Errorf("Inputs[prompt] = %v, want the raw prompt", got)
	}
	if _, ok := sections.Inputs["chat_history"]; ok {
		t.Errorf("Inputs[chat_history] set for a plain-string prompt")
	}
	if got := sections.Outputs["content"]; got != "bonjour" {
		t.Errorf("Outputs[content] = %v, want bonjour", got)
	}
}

func TestExtractRuleOrderFallback(t *testing.T) {
	engine := testEngine(t)

	// gen_ai.usage.prompt_tokens is absent; the second rule for the
	// field picks up the newer input_tokens spelling.
	attrs := map[string]any{
		"gen_ai.system":              "anthropic",
		"gen_ai.request.model":       "claude-sonnet-4",
		"gen_ai.usage.input_tokens":  100,
		"gen_ai.usage.output_tokens": 50,
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorTraceloop, Provider: "anthropic"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got := sections.Metadata["prompt_tokens"]; got != 100 {
		t.Errorf("Metadata[prompt_tokens] = %v, want 100", got)
	}
	if got := sections.Metadata["completion_tokens"]; got != 50 {
		t.Errorf("Metadata[completion_tokens] = %v, want 50", got)
	}
}

func TestExtractProviderOverride(t *testing.T) {
	engine := testEngine(t)

	attrs := map[string]any{
		"gen_ai.system":                            "anthropic",
		"gen_ai.request.model":                     "claude-opus-4",
		"gen_ai.usage.cache_read_input_tokens":     2048,
		"gen_ai.usage.cache_creation_input_tokens": 512,
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorTraceloop, Provider: "anthropic"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got := sections.Metadata["cache_read_tokens"]; got != 2048 {
		t.Errorf("Metadata[cache_read_tokens] = %v, want 2048", got)
	}
	if got := sections.Metadata["cache_write_tokens"]; got != 512 {
		t.Errorf("Metadata[cache_write_tokens] = %v, want 512", got)
	}

	// An openai span must not pick up anthropic override fields.
	openai, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorTraceloop, Provider: "openai"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := openai.Metadata["cache_read_tokens"]; ok {
		t.Errorf("openai extractor extracted anthropic override field")
	}
}

func TestExtractUnknownProviderUsesGenericRules(t *testing.T) {
	engine := testEngine(t)

	attrs := map[string]any{
		"gen_ai.request.model":    "local-llama",
		"gen_ai.prompt.0.role":    "user",
		"gen_ai.prompt.0.content": "hi",
	}

	sections, err := engine.Extract(attrs, Result{Instrumentor: InstrumentorTraceloop, Provider: Unknown})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got := sections.Config["model"]; got != "local-llama" {
		t.Errorf("Config[model] = %v, want %q", got, "local-llama")
	}
	if _, ok := sections.Metadata["cost"]; ok {
		t.Errorf("Metadata[cost] set for a model with no pricing row")
	}
}

func TestExtractUnknownInstrumentor(t *testing.T) {
	engine := testEngine(t)

	if _, err := engine.Extract(map[string]any{"x": 1}, Result{Instrumentor: Unknown, Provider: Unknown}); err == nil {
		t.Fatal("Extract() error = nil, want ErrNoRules")
	}

	_, err := engine.ExtractorFor(Unknown, Unknown)
	if err == nil {
		t.Fatal("ExtractorFor() error = nil, want ErrNoRules")
	}
}

func TestExtractorForMemoized(t *testing.T) {
	engine := testEngine(t)

	first, err := engine.ExtractorFor("openai", InstrumentorTraceloop)
	if err != nil {
		t.Fatalf("ExtractorFor() error = %v", err)
	}
	second, err := engine.ExtractorFor("openai", InstrumentorTraceloop)
	if err != nil {
		t.Fatalf("ExtractorFor() error = %v", err)
	}
	if first != second {
		t.Error("ExtractorFor() returned distinct extractors for the same pair")
	}
}

func TestExtractEmptySections(t *testing.T) {
	engine := testEngine(t)

	sections, err := engine.Extract(map[string]any{"gen_ai.request.seed": 7}, Result{Instrumentor: InstrumentorTraceloop, Provider: Unknown})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(sections.Inputs) != 0 || len(sections.Outputs) != 0 {
		t.Errorf("Extract() produced fields from unmapped attributes: %+v", sections)
	}
	if sections.Config == nil || sections.Metadata == nil {
		t.Error("Extract() returned nil section maps")
	}
}
