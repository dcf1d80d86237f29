// Package bundle loads and validates the rule bundle: the data-driven
// catalog of provider signatures, extraction rules, and model pricing
// that the detection and extraction layers run on. The artifact ships
// embedded in the binary; a path override exists for rule development.
package bundle

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissing means no artifact was available to load.
	ErrMissing = errors.New("bundle: artifact missing")

	// ErrCorrupt means the artifact failed decoding or validation.
	ErrCorrupt = errors.New("bundle: artifact corrupt")
)

// KnownTransforms is the closed set of transform names a rule may
// reference. The extraction layer implements exactly these.
var KnownTransforms = map[string]bool{
	"direct":                        true,
	"json_parse_or_direct":          true,
	"parse_messages":                true,
	"parse_flattened_messages":      true,
	"extract_content_from_messages": true,
	"extract_first_value":           true,
	"cost_calculate":                true,
	"finish_reason_normalize":       true,
}

// Bundle is the decoded rule artifact.
type Bundle struct {
	// SchemaVersion gates compatibility; the SDK accepts 1.x.
	SchemaVersion string `yaml:"schema_version"`

	// Instrumentors holds the per-dialect generic rule tables, keyed
	// by instrumentor name (traceloop, openinference, openlit).
	Instrumentors map[string]InstrumentorSpec `yaml:"instrumentors"`

	// Providers holds detection data and rule overrides per provider.
	Providers map[string]ProviderSpec `yaml:"providers"`

	// Pricing maps model names to USD-per-million-token rates.
	Pricing map[string]ModelPrice `yaml:"pricing"`
}

// InstrumentorSpec describes one attribute dialect.
type InstrumentorSpec struct {
	// Prefix is the attribute-key prefix that identifies the dialect
	// (tier-1 detection tallies these).
	Prefix string `yaml:"prefix"`

	// Rules maps canonical fields ("section.field") to ordered rule
	// lists; the first rule that yields a value wins.
	Rules map[string][]Rule `yaml:"rules"`
}

// ProviderSpec describes how to recognize a provider and what extra
// fields to pull for it.
type ProviderSpec struct {
	// Detect holds per-instrumentor recognition data.
	Detect map[string]DetectSpec `yaml:"detect"`

	// Rules holds provider-specific overrides per instrumentor. They
	// are consulted before the instrumentor's generic rules.
	Rules map[string]map[string][]Rule `yaml:"rules,omitempty"`
}

// DetectSpec is the recognition data for one (provider, instrumentor)
// pair.
type DetectSpec struct {
	// Signature is a frozen set of attribute keys. An exact keyset hit
	// or a full subset containment identifies the provider.
	Signature []string `yaml:"signature,omitempty"`

	// ExplicitFields maps attribute keys to the values (compared
	// case-insensitively) that identify the provider directly.
	ExplicitFields map[string][]string `yaml:"explicit_fields,omitempty"`
}

// Rule describes one extraction step. Exactly one of Key, Prefix, or
// Indexed is set for matching rules; computed rules (cost_calculate)
// set none.
type Rule struct {
	// Key matches an attribute by exact name.
	Key string `yaml:"key,omitempty"`

	// Prefix matches every attribute that starts with it.
	Prefix string `yaml:"prefix,omitempty"`

	// Indexed matches the attribute family Indexed.{i}.rest and
	// collects it, ordered by i.
	Indexed string `yaml:"indexed,omitempty"`

	// Transform names the shaping function applied to the match.
	Transform string `yaml:"transform"`
}

// ModelPrice is the per-million-token cost of a model.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Decode parses a bundle artifact. The returned bundle is validated.
func Decode(data []byte) (*Bundle, error) {
	if len(data) == 0 {
		return nil, ErrMissing
	}

	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the structural invariants the extraction layer
// relies on. Any violation makes the whole artifact unusable: partial
// rule tables would silently produce wrong events.
func (b *Bundle) Validate() error {
	if !strings.HasPrefix(b.SchemaVersion, "1.") {
		return fmt.Errorf("%w: unsupported schema_version %q", ErrCorrupt, b.SchemaVersion)
	}
	if len(b.Instrumentors) == 0 {
		return fmt.Errorf("%w: no instrumentors", ErrCorrupt)
	}

	for name, spec := range b.Instrumentors {
		if spec.Prefix == "" {
			return fmt.Errorf("%w: instrumentor %q has no prefix", ErrCorrupt, name)
		}
		for field, rules := range spec.Rules {
			if err := validateRules(name, field, rules); err != nil {
				return err
			}
		}
	}

	for name, spec := range b.Providers {
		if len(spec.Detect) == 0 {
			return fmt.Errorf("%w: provider %q has no detection data", ErrCorrupt, name)
		}
		for instr, detect := range spec.Detect {
			if _, ok := b.Instrumentors[instr]; !ok {
				return fmt.Errorf("%w: provider %q references unknown instrumentor %q", ErrCorrupt, name, instr)
			}
			if len(detect.Signature) == 0 && len(detect.ExplicitFields) == 0 {
				return fmt.Errorf("%w: provider %q instrumentor %q has neither signature nor explicit fields", ErrCorrupt, name, instr)
			}
		}
		for instr, fields := range spec.Rules {
			if _, ok := b.Instrumentors[instr]; !ok {
				return fmt.Errorf("%w: provider %q rules reference unknown instrumentor %q", ErrCorrupt, name, instr)
			}
			for field, rules := range fields {
				if err := validateRules(name+"/"+instr, field, rules); err != nil {
					return err
				}
			}
		}
	}

	for model, price := range b.Pricing {
		if price.Input < 0 || price.Output < 0 {
			return fmt.Errorf("%w: negative pricing for model %q", ErrCorrupt, model)
		}
	}

	return nil
}

func validateRules(scope, field string, rules []Rule) error {
	if !strings.Contains(field, ".") {
		return fmt.Errorf("%w: %s: field %q is not section.field", ErrCorrupt, scope, field)
	}
	for i, rule := range rules {
		if !KnownTransforms[rule.Transform] {
			return fmt.Errorf("%w: %s: field %q rule %d names unknown transform %q", ErrCorrupt, scope, field, i, rule.Transform)
		}
		matchers := 0
		if rule.Key != "" {
			matchers++
		}
		if rule.Prefix != "" {
			matchers++
		}
		if rule.Indexed != "" {
			matchers++
		}
		if matchers > 1 {
			return fmt.Errorf("%w: %s: field %q rule %d sets multiple matchers", ErrCorrupt, scope, field, i)
		}
		if matchers == 0 && rule.Transform != "cost_calculate" {
			return fmt.Errorf("%w: %s: field %q rule %d has no matcher", ErrCorrupt, scope, field, i)
		}
	}
	return nil
}

// RulesFor returns the ordered rule table for a (provider,
// instrumentor) pair: provider overrides first, then the
// instrumentor's generic rules. An unknown provider gets the generic
// rules alone. The bool reports whether the instrumentor exists.
func (b *Bundle) RulesFor(provider, instrumentor string) (map[string][]Rule, bool) {
	spec, ok := b.Instrumentors[instrumentor]
	if !ok {
		return nil, false
	}

	merged := make(map[string][]Rule, len(spec.Rules)+4)
	if p, ok := b.Providers[provider]; ok {
		for field, rules := range p.Rules[instrumentor] {
			merged[field] = append(merged[field], rules...)
		}
	}
	for field, rules := range spec.Rules {
		merged[field] = append(merged[field], rules...)
	}
	return merged, true
}

// PriceFor looks up pricing by exact model name, then by the longest
// catalogued prefix, so dated releases like claude-sonnet-4-20250514
// resolve to their family row.
func (b *Bundle) PriceFor(model string) (ModelPrice, bool) {
	if price, ok := b.Pricing[model]; ok {
		return price, true
	}

	var best string
	var bestPrice ModelPrice
	for name, price := range b.Pricing {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
			bestPrice = price
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return bestPrice, true
}
