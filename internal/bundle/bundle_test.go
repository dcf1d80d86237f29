package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDecode_EmbeddedArtifact(t *testing.T) {
	b, err := Decode(embeddedArtifact)
	if err != nil {
		t.Fatalf("Decode(embedded) error: %v", err)
	}

	for _, instr := range []string{"traceloop", "openinference", "openlit"} {
		spec, ok := b.Instrumentors[instr]
		if !ok {
			t.Errorf("instrumentor %q missing", instr)
			continue
		}
		if spec.Prefix == "" {
			t.Errorf("instrumentor %q has empty prefix", instr)
		}
		if len(spec.Rules) == 0 {
			t.Errorf("instrumentor %q has no rules", instr)
		}
	}

	for _, provider := range []string{"openai", "anthropic", "google", "azure_openai", "mistral", "cohere"} {
		if _, ok := b.Providers[provider]; !ok {
			t.Errorf("provider %q missing", provider)
		}
	}

	if len(b.Pricing) == 0 {
		t.Error("pricing table empty")
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "", ErrMissing},
		{"not yaml", "{{{{", ErrCorrupt},
		{"bad schema version", `
schema_version: "2.0"
instrumentors:
  traceloop: {prefix: "gen_ai.", rules: {}}
`, ErrCorrupt},
		{"unknown transform", `
schema_version: "1.0"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules:
      config.model:
        - key: gen_ai.request.model
          transform: frobnicate
`, ErrCorrupt},
		{"rule without matcher", `
schema_version: "1.0"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules:
      config.model:
        - transform: direct
`, ErrCorrupt},
		{"rule with two matchers", `
schema_version: "1.0"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules:
      config.model:
        - key: a
          prefix: b
          transform: direct
`, ErrCorrupt},
		{"field without section", `
schema_version: "1.0"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules:
      model:
        - key: a
          transform: direct
`, ErrCorrupt},
		{"provider references unknown instrumentor", `
schema_version: "1.0"
instrumentors:
  traceloop: {prefix: "gen_ai.", rules: {}}
providers:
  openai:
    detect:
      openllmetry:
        signature: [a, b]
`, ErrCorrupt},
		{"provider without detection data", `
schema_version: "1.0"
instrumentors:
  traceloop: {prefix: "gen_ai.", rules: {}}
providers:
  openai:
    detect:
      traceloop: {}
`, ErrCorrupt},
		{"negative price", `
schema_version: "1.0"
instrumentors:
  traceloop: {prefix: "gen_ai.", rules: {}}
pricing:
  gpt-4o: {input: -1, output: 10}
`, ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_LoadMemoized(t *testing.T) {
	loader := NewLoader("")

	first, err := loader.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	second, err := loader.Load()
	if err != nil {
		t.Fatalf("second Load error: %v", err)
	}
	if first != second {
		t.Error("Load returned different bundle pointers; want memoized copy")
	}
}

func TestLoader_PathMissing(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := loader.Load()
	if !errors.Is(err, ErrMissing) {
		t.Errorf("Load error = %v, want ErrMissing", err)
	}

	// The error memoizes too.
	_, err = loader.Load()
	if !errors.Is(err, ErrMissing) {
		t.Errorf("second Load error = %v, want ErrMissing", err)
	}
}

func TestLoader_PathCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	if err := os.WriteFile(path, []byte("schema_version: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load error = %v, want ErrCorrupt", err)
	}
}

func TestLoader_PathOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	artifact := `
schema_version: "1.1"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules:
      config.model:
        - key: gen_ai.request.model
          transform: direct
`
	if err := os.WriteFile(path, []byte(artifact), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	b, err := loader.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if b.SchemaVersion != "1.1" {
		t.Errorf("SchemaVersion = %q, want %q", b.SchemaVersion, "1.1")
	}
	if len(b.Instrumentors) != 1 {
		t.Errorf("Instrumentors = %d, want 1 (override must replace embedded)", len(b.Instrumentors))
	}
}

func TestLoader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	v1 := `
schema_version: "1.0"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules: {}
`
	if err := os.WriteFile(path, []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	v2 := `
schema_version: "1.2"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules: {}
`
	if err := os.WriteFile(path, []byte(v2), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := loader.Reload()
	if err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if b.SchemaVersion != "1.2" {
		t.Errorf("SchemaVersion = %q, want %q", b.SchemaVersion, "1.2")
	}

	// A broken rewrite keeps the previous bundle.
	if err := os.WriteFile(path, []byte("schema_version: [x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Reload(); err == nil {
		t.Error("Reload of corrupt artifact should error")
	}
	if got := loader.Current(); got == nil || got.SchemaVersion != "1.2" {
		t.Error("failed Reload must keep the previous bundle")
	}
}

func TestBundle_RulesFor(t *testing.T) {
	b, err := Decode(embeddedArtifact)
	if err != nil {
		t.Fatal(err)
	}

	rules, ok := b.RulesFor("openai", "traceloop")
	if !ok {
		t.Fatal("RulesFor(openai, traceloop) not found")
	}
	if _, ok := rules["metadata.system_fingerprint"]; !ok {
		t.Error("provider override metadata.system_fingerprint missing")
	}
	if _, ok := rules["inputs.chat_history"]; !ok {
		t.Error("generic rule inputs.chat_history missing")
	}

	// Unknown provider still gets the generic table.
	generic, ok := b.RulesFor("acme", "traceloop")
	if !ok {
		t.Fatal("RulesFor(acme, traceloop) not found")
	}
	if _, ok := generic["inputs.chat_history"]; !ok {
		t.Error("generic rules missing for unknown provider")
	}
	if _, ok := generic["metadata.system_fingerprint"]; ok {
		t.Error("unknown provider must not inherit openai overrides")
	}

	if _, ok := b.RulesFor("openai", "no_such_dialect"); ok {
		t.Error("RulesFor with unknown instrumentor should report not found")
	}
}

func TestBundle_RulesFor_OverridesFirst(t *testing.T) {
	artifact := `
schema_version: "1.0"
instrumentors:
  traceloop:
    prefix: "gen_ai."
    rules:
      config.model:
        - key: generic.key
          transform: direct
providers:
  openai:
    detect:
      traceloop:
        explicit_fields:
          gen_ai.system: [openai]
    rules:
      traceloop:
        config.model:
          - key: override.key
            transform: direct
`
	b, err := Decode([]byte(artifact))
	if err != nil {
		t.Fatal(err)
	}

	rules, _ := b.RulesFor("openai", "traceloop")
	modelRules := rules["config.model"]
	if len(modelRules) != 2 {
		t.Fatalf("config.model rules = %d, want 2", len(modelRules))
	}
	if modelRules[0].Key != "override.key" {
		t.Errorf("first rule key = %q, want override.key (provider overrides run first)", modelRules[0].Key)
	}
}

func TestBundle_PriceFor(t *testing.T) {
	b, err := Decode(embeddedArtifact)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		model     string
		wantFound bool
	}{
		{"gpt-4o", true},
		{"gpt-4o-2024-11-20", true},          // prefix of gpt-4o
		{"claude-sonnet-4-20250514", true},   // prefix of claude-sonnet-4
		{"gemini-2.0-flash-exp", true},       // prefix of gemini-2.0-flash
		{"llama-3.1-405b", false},            // not catalogued
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			price, found := b.PriceFor(tt.model)
			if found != tt.wantFound {
				t.Fatalf("PriceFor(%q) found = %v, want %v", tt.model, found, tt.wantFound)
			}
			if found && price.Input <= 0 {
				t.Errorf("PriceFor(%q) input rate = %v, want > 0", tt.model, price.Input)
			}
		})
	}

	// Longest prefix wins over shorter ones.
	mini, _ := b.PriceFor("gpt-4o-mini-2024-07-18")
	full, _ := b.PriceFor("gpt-4o-2024-11-20")
	if mini.Input == full.Input {
		t.Error("gpt-4o-mini must resolve to the mini row, not the gpt-4o row")
	}
}
