package detect

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
	"github.com/honeyhiveai/honeyhive-go/internal/cache"
	"github.com/honeyhiveai/honeyhive-go/internal/logging"
)

// ErrNoRules is returned when no extraction rules exist for an
// instrumentor, which happens only for unknown dialects.
var ErrNoRules = errors.New("detect: no extraction rules for instrumentor")

// maxIndexedEntries caps how many members of an indexed attribute
// family are collected. Indexes at or above the cap are dropped, not
// truncated mid-message.
const maxIndexedEntries = 500

// Engine compiles extraction rule tables on demand and memoizes them
// per (provider, instrumentor) pair. One engine serves every span a
// processor sees; compilation happens once per pair, extraction on
// every span.
type Engine struct {
	bundle     *bundle.Bundle
	extractors *cache.Cache[string, *Extractor]
	log        *logging.Logger
}

// NewEngine builds an extraction engine over a decoded rule bundle.
func NewEngine(b *bundle.Bundle, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		bundle: b,
		extractors: cache.New[string, *Extractor](cache.Config{
			TTL:     time.Hour,
			MaxSize: 256,
		}),
		log: log,
	}
}

// ExtractorFor returns the compiled extractor for a provider and
// instrumentor, compiling it on first use. Concurrent callers for the
// same pair share one compilation.
func (e *Engine) ExtractorFor(provider, instrumentor string) (*Extractor, error) {
	key := provider + keysetSeparator + instrumentor
	return e.extractors.GetOrCompute(key, func() (*Extractor, error) {
		return e.compile(provider, instrumentor)
	})
}

// Extract runs detection output against span attributes and returns
// the populated sections.
func (e *Engine) Extract(attrs map[string]any, result Result) (*Sections, error) {
	extractor, err := e.ExtractorFor(result.Provider, result.Instrumentor)
	if err != nil {
		return nil, err
	}
	return extractor.Extract(attrs), nil
}

func (e *Engine) compile(provider, instrumentor string) (*Extractor, error) {
	rules, ok := e.bundle.RulesFor(provider, instrumentor)
	if !ok {
		return nil, ErrNoRules
	}

	extractor := &Extractor{
		provider:     provider,
		instrumentor: instrumentor,
		bundle:       e.bundle,
		log:          e.log,
	}

	fieldNames := make([]string, 0, len(rules))
	for name := range rules {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, name := range fieldNames {
		section, field, _ := strings.Cut(name, ".")
		compiled := compiledField{section: section, name: field}
		for _, rule := range rules[name] {
			compiled.rules = append(compiled.rules, compileRule(rule))
		}
		extractor.fields = append(extractor.fields, compiled)
	}

	e.log.Debug(context.Background(), "compiled extractor",
		"provider", provider,
		"instrumentor", instrumentor,
		"fields", len(extractor.fields),
	)
	return extractor, nil
}

// Extractor is a compiled rule table for one (provider, instrumentor)
// pair. Provider override rules are already merged ahead of the
// generic instrumentor rules, so plain in-order evaluation gives
// overrides precedence.
type Extractor struct {
	provider     string
	instrumentor string
	bundle       *bundle.Bundle
	fields       []compiledField
	log          *logging.Logger
}

type compiledField struct {
	section string
	name    string
	rules   []compiledRule
}

type ruleKind int

const (
	matchKey ruleKind = iota
	matchPrefix
	matchIndexed
	computed
)

type compiledRule struct {
	kind      ruleKind
	key       string
	transform string
}

func compileRule(rule bundle.Rule) compiledRule {
	switch {
	case rule.Key != "":
		return compiledRule{kind: matchKey, key: rule.Key, transform: rule.Transform}
	case rule.Indexed != "":
		return compiledRule{kind: matchIndexed, key: rule.Indexed, transform: rule.Transform}
	case rule.Prefix != "":
		return compiledRule{kind: matchPrefix, key: rule.Prefix, transform: rule.Transform}
	default:
		return compiledRule{kind: computed, transform: rule.Transform}
	}
}

// Extract evaluates the table against one span's attributes. Matcher
// rules run first; computed rules run in a second pass so they can
// read fields the first pass produced, and only fill fields the first
// pass left empty. Within a field the first rule to yield a non-nil
// value wins.
func (x *Extractor) Extract(attrs map[string]any) *Sections {
	sections := NewSections()
	env := &transformEnv{bundle: x.bundle, sections: sections}

	for _, field := range x.fields {
		for _, rule := range field.rules {
			if rule.kind == computed {
				continue
			}
			match, ok := rule.match(attrs)
			if !ok {
				continue
			}
			if value := x.apply(rule.transform, match, env); value != nil {
				sections.set(field.section, field.name, value)
				break
			}
		}
	}

	for _, field := range x.fields {
		if sections.has(field.section, field.name) {
			continue
		}
		for _, rule := range field.rules {
			if rule.kind != computed {
				continue
			}
			if value := x.apply(rule.transform, matchValue{}, env); value != nil {
				sections.set(field.section, field.name, value)
				break
			}
		}
	}

	return sections
}

// apply runs one transform with panic containment. A panicking
// transform leaves its field unset and extraction continues; the
// failure is logged once per (provider, transform) pair so a bad rule
// cannot flood the logs on a busy pipeline.
func (x *Extractor) apply(name string, match matchValue, env *transformEnv) (value any) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			x.log.WarnOnce(context.Background(), x.provider+keysetSeparator+name,
				"transform failed",
				"provider", x.provider,
				"instrumentor", x.instrumentor,
				"transform", name,
				"panic", r,
			)
		}
	}()
	return applyTransform(name, match, env)
}

// match locates the rule's attributes. The bool reports whether the
// matcher found anything at all; transforms decide whether what was
// found is usable.
func (r compiledRule) match(attrs map[string]any) (matchValue, bool) {
	switch r.kind {
	case matchKey:
		value, ok := attrs[r.key]
		if !ok {
			return matchValue{}, false
		}
		return matchValue{value: value}, true

	case matchPrefix:
		collected := map[string]any{}
		for key, value := range attrs {
			if rest, ok := strings.CutPrefix(key, r.key); ok && rest != "" {
				collected[rest] = value
			}
		}
		if len(collected) == 0 {
			return matchValue{}, false
		}
		return matchValue{value: unflatten(collected)}, true

	case matchIndexed:
		items := collectIndexed(attrs, r.key)
		if len(items) == 0 {
			return matchValue{}, false
		}
		return matchValue{collected: items}, true

	default:
		return matchValue{}, false
	}
}

// collectIndexed gathers the "base.{i}.rest" attribute family under
// base, ordered by index. Non-numeric segments after the base are
// ignored rather than treated as index zero.
func collectIndexed(attrs map[string]any, base string) []indexedItem {
	prefix := base + "."
	byIndex := map[int]map[string]any{}

	for key, value := range attrs {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		idx, field, ok := splitIndex(rest)
		if !ok || idx >= maxIndexedEntries {
			continue
		}
		fields := byIndex[idx]
		if fields == nil {
			fields = map[string]any{}
			byIndex[idx] = fields
		}
		fields[field] = value
	}

	if len(byIndex) == 0 {
		return nil
	}
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	items := make([]indexedItem, 0, len(indices))
	for _, idx := range indices {
		items = append(items, indexedItem{index: idx, fields: byIndex[idx]})
	}
	return items
}

func (s *Sections) set(section, field string, value any) {
	if m := s.section(section); m != nil {
		m[field] = value
	}
}

func (s *Sections) has(section, field string) bool {
	m := s.section(section)
	if m == nil {
		return false
	}
	_, ok := m[field]
	return ok
}

func (s *Sections) section(name string) map[string]any {
	switch name {
	case "inputs":
		return s.Inputs
	case "outputs":
		return s.Outputs
	case "config":
		return s.Config
	case "metadata":
		return s.Metadata
	default:
		return nil
	}
}
