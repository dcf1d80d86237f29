package detect

import (
	"testing"

	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
)

func testBundle(t *testing.T) *bundle.Bundle {
	t.Helper()
	b, err := bundle.NewLoader("").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return b
}

func TestDetectInstrumentor(t *testing.T) {
	detector := NewDetector(testBundle(t))

	tests := []struct {
		name  string
		attrs map[string]any
		want  string
	}{
		{
			name: "traceloop span",
			attrs: map[string]any{
				"gen_ai.system":           "openai",
				"gen_ai.request.model":    "gpt-4o",
				"gen_ai.prompt.0.role":    "user",
				"gen_ai.prompt.0.content": "hi",
			},
			want: InstrumentorTraceloop,
		},
		{
			name: "openinference span",
			attrs: map[string]any{
				"llm.model_name":                        "claude-sonnet-4",
				"llm.provider":                          "anthropic",
				"llm.input_messages.0.message.role":     "user",
				"llm.input_messages.0.message.content":  "hi",
				"llm.output_messages.0.message.content": "hello",
			},
			want: InstrumentorOpenInference,
		},
		{
			name: "openlit span",
			attrs: map[string]any{
				"openlit.provider":       "gemini",
				"openlit.model":          "gemini-2.0-flash",
				"openlit.input_messages": `[{"role":"user","content":"hi"}]`,
			},
			want: InstrumentorOpenLIT,
		},
		{
			name: "mixed keys majority wins",
			attrs: map[string]any{
				"gen_ai.system":           "openai",
				"gen_ai.request.model":    "gpt-4o",
				"gen_ai.prompt.0.role":    "user",
				"gen_ai.prompt.0.content": "hi",
				"llm.model_name":          "gpt-4o",
			},
			want: InstrumentorTraceloop,
		},
		{
			name: "tie resolves to traceloop",
			attrs: map[string]any{
				"gen_ai.request.model": "gpt-4o",
				"llm.model_name":       "gpt-4o",
			},
			want: InstrumentorTraceloop,
		},
		{
			name: "no vendor keys",
			attrs: map[string]any{
				"http.method":      "POST",
				"http.status_code": 200,
			},
			want: Unknown,
		},
		{
			name:  "empty attributes",
			attrs: map[string]any{},
			want:  Unknown,
		},
		{
			name: "sdk enrichment alone is not a dialect",
			attrs: map[string]any{
				"honeyhive.session_id":                        "abc",
				"honeyhive_event_type":                        "tool",
				"traceloop.association.properties.session_id": "abc",
			},
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detector.Detect(tt.attrs)
			if got.Instrumentor != tt.want {
				t.Errorf("Detect() instrumentor = %q, want %q", got.Instrumentor, tt.want)
			}
		})
	}
}

func TestDetectProviderExplicitField(t *testing.T) {
	detector := NewDetector(testBundle(t))

	tests := []struct {
		name  string
		attrs map[string]any
		want  string
	}{
		{
			name: "gen_ai.system openai",
			attrs: map[string]any{
				"gen_ai.system":           "openai",
				"gen_ai.request.model":    "gpt-4o",
				"gen_ai.prompt.0.content": "hi",
			},
			want: "openai",
		},
		{
			name: "case insensitive value",
			attrs: map[string]any{
				"gen_ai.system":           "OpenAI",
				"gen_ai.request.model":    "gpt-4o",
				"gen_ai.prompt.0.content": "hi",
			},
			want: "openai",
		},
		{
			name: "gemini alias maps to google",
			attrs: map[string]any{
				"gen_ai.system":           "gemini",
				"gen_ai.request.model":    "gemini-2.5-pro",
				"gen_ai.prompt.0.content": "hi",
			},
			want: "google",
		},
		{
			name: "llm.provider anthropic",
			attrs: map[string]any{
				"llm.provider":               "anthropic",
				"llm.model_name":             "claude-sonnet-4",
				"llm.token_count.completion": 12,
			},
			want: "anthropic",
		},
		{
			name: "openlit azure alias",
			attrs: map[string]any{
				"openlit.provider": "azure",
				"openlit.model":    "gpt-4o",
			},
			want: "azure_openai",
		},
		{
			name: "unrecognized value",
			attrs: map[string]any{
				"gen_ai.system":           "my-local-proxy",
				"gen_ai.prompt.0.content": "hi",
			},
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detector.Detect(tt.attrs)
			if got.Provider != tt.want {
				t.Errorf("Detect() provider = %q, want %q", got.Provider, tt.want)
			}
			if tt.want != Unknown && got.Confidence != 1.0 {
				t.Errorf("Detect() confidence = %v, want 1.0", got.Confidence)
			}
		})
	}
}

func TestDetectProviderExactSignature(t *testing.T) {
	detector := NewDetector(testBundle(t))

	// The keyset matches the catalogued openai signature exactly, so
	// detection succeeds even though the explicit field value is not a
	// known provider name.
	attrs := map[string]any{
		"gen_ai.system":                    "custom-gateway",
		"gen_ai.request.model":             "gpt-4o",
		"gen_ai.openai.system_fingerprint": "fp_abc123",
	}

	got := detector.Detect(attrs)
	if got.Provider != "openai" {
		t.Errorf("Detect() provider = %q, want %q", got.Provider, "openai")
	}
	if got.Confidence != 1.0 {
		t.Errorf("Detect() confidence = %v, want 1.0", got.Confidence)
	}
}

func TestDetectProviderSubsetScan(t *testing.T) {
	detector := NewDetector(testBundle(t))

	// Superset of the openai traceloop signature with an unknown
	// explicit value: only the subset scan can resolve it, and its
	// confidence reflects the partial cover.
	attrs := map[string]any{
		"gen_ai.system":                    "custom-gateway",
		"gen_ai.request.model":             "gpt-4o",
		"gen_ai.openai.system_fingerprint": "fp_abc123",
		"gen_ai.prompt.0.role":             "user",
		"gen_ai.prompt.0.content":          "hi",
		"gen_ai.completion.0.content":      "hello",
	}

	got := detector.Detect(attrs)
	if got.Provider != "openai" {
		t.Fatalf("Detect() provider = %q, want %q", got.Provider, "openai")
	}
	if got.Confidence <= 0 || got.Confidence >= 1.0 {
		t.Errorf("Detect() confidence = %v, want in (0, 1)", got.Confidence)
	}
	want := 3.0 / 6.0
	if got.Confidence != want {
		t.Errorf("Detect() confidence = %v, want %v", got.Confidence, want)
	}
}

func TestDetectProviderUnknown(t *testing.T) {
	detector := NewDetector(testBundle(t))

	attrs := map[string]any{
		"gen_ai.prompt.0.role":    "user",
		"gen_ai.prompt.0.content": "hi",
	}

	got := detector.Detect(attrs)
	if got.Instrumentor != InstrumentorTraceloop {
		t.Errorf("Detect() instrumentor = %q, want %q", got.Instrumentor, InstrumentorTraceloop)
	}
	if got.Provider != Unknown {
		t.Errorf("Detect() provider = %q, want %q", got.Provider, Unknown)
	}
	if got.Confidence != 0 {
		t.Errorf("Detect() confidence = %v, want 0", got.Confidence)
	}
}

func TestDetectEnrichmentKeysIgnored(t *testing.T) {
	detector := NewDetector(testBundle(t))

	bare := map[string]any{
		"gen_ai.system":                    "custom-gateway",
		"gen_ai.request.model":             "gpt-4o",
		"gen_ai.openai.system_fingerprint": "fp_abc123",
	}
	enriched := map[string]any{
		"gen_ai.system":                               "custom-gateway",
		"gen_ai.request.model":                        "gpt-4o",
		"gen_ai.openai.system_fingerprint":            "fp_abc123",
		"honeyhive.session_id":                        "s-1",
		"honeyhive.project":                           "demo",
		"traceloop.association.properties.session_id": "s-1",
	}

	if got, want := detector.Detect(enriched), detector.Detect(bare); got != want {
		t.Errorf("Detect() with enrichment = %+v, want %+v", got, want)
	}
}

func TestDetectStableAcrossCalls(t *testing.T) {
	detector := NewDetector(testBundle(t))

	attrs := map[string]any{
		"gen_ai.system":           "anthropic",
		"gen_ai.request.model":    "claude-sonnet-4",
		"gen_ai.prompt.0.content": "hi",
	}

	first := detector.Detect(attrs)
	for i := 0; i < 10; i++ {
		if got := detector.Detect(attrs); got != first {
			t.Fatalf("Detect() call %d = %+v, want %+v", i, got, first)
		}
	}
	if first.Provider != "anthropic" {
		t.Errorf("Detect() provider = %q, want %q", first.Provider, "anthropic")
	}
}

func TestDetectSameKeysetDifferentExplicitValue(t *testing.T) {
	detector := NewDetector(testBundle(t))

	openai := map[string]any{
		"gen_ai.system":           "openai",
		"gen_ai.request.model":    "gpt-4o",
		"gen_ai.prompt.0.content": "hi",
	}
	mistral := map[string]any{
		"gen_ai.system":           "mistral",
		"gen_ai.request.model":    "mistral-large",
		"gen_ai.prompt.0.content": "hi",
	}

	// Identical keysets: the memo entry for the first span must not
	// answer for the second.
	if got := detector.Detect(openai).Provider; got != "openai" {
		t.Fatalf("Detect() provider = %q, want %q", got, "openai")
	}
	if got := detector.Detect(mistral).Provider; got != "mistral" {
		t.Errorf("Detect() provider = %q, want %q", got, "mistral")
	}
}
