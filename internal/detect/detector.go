// Package detect identifies which instrumentor and provider produced
// a span's attributes and extracts the canonical event fields from
// them. Detection is pure table lookups over the rule bundle; there is
// no regex anywhere on this path.
package detect

import (
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
	"github.com/honeyhiveai/honeyhive-go/internal/cache"
)

// Instrumentor names as they appear in the rule bundle.
const (
	InstrumentorTraceloop     = "traceloop"
	InstrumentorOpenInference = "openinference"
	InstrumentorOpenLIT       = "openlit"

	// Unknown marks spans whose dialect or provider could not be
	// determined. An unknown instrumentor skips extraction entirely;
	// an unknown provider still gets the dialect's generic rules.
	Unknown = "unknown"
)

// Result is a detection outcome.
type Result struct {
	Instrumentor string
	Provider     string

	// Confidence is 1.0 for exact-signature and explicit-field hits,
	// |signature|/|keyset| for subset matches, 0 for unknown.
	Confidence float64
}

// Detector resolves (instrumentor, provider) for attribute sets.
// Results are memoized by a hash of the attribute keyset plus the
// values of any explicit-detection fields: workloads emit the same
// span shapes over and over, so the match walk runs once per shape,
// but two shapes differing only in gen_ai.system must not share an
// entry.
type Detector struct {
	prefixes     map[string]string // key prefix -> instrumentor
	signatures   map[string]sigEntry
	explicit     map[string][]explicitEntry // attr key -> candidate values
	explicitKeys []string                   // sorted keys of explicit
	bySize       []sigEntry                 // sorted by signature size, descending
	results      *cache.Cache[uint64, Result]
}

type sigEntry struct {
	keys         []string
	instrumentor string
	provider     string
}

type explicitEntry struct {
	value        string // lowercased expected value
	instrumentor string
	provider     string
}

// keysetSeparator joins sorted attribute keys into the canonical form
// used for exact matching and memoization. Attribute keys never
// contain control characters.
const keysetSeparator = "\x1f"

// NewDetector builds the detection indexes from the rule bundle.
func NewDetector(b *bundle.Bundle) *Detector {
	d := &Detector{
		prefixes:   make(map[string]string, len(b.Instrumentors)),
		signatures: make(map[string]sigEntry),
		explicit:   make(map[string][]explicitEntry),
		results: cache.New[uint64, Result](cache.Config{
			TTL:     5 * time.Minute,
			MaxSize: 4096,
		}),
	}

	for name, spec := range b.Instrumentors {
		d.prefixes[spec.Prefix] = name
	}

	for provider, spec := range b.Providers {
		for instr, detect := range spec.Detect {
			if len(detect.Signature) > 0 {
				entry := sigEntry{
					keys:         append([]string(nil), detect.Signature...),
					instrumentor: instr,
					provider:     provider,
				}
				sort.Strings(entry.keys)
				d.signatures[strings.Join(entry.keys, keysetSeparator)] = entry
				d.bySize = append(d.bySize, entry)
			}
			for key, values := range detect.ExplicitFields {
				for _, value := range values {
					d.explicit[key] = append(d.explicit[key], explicitEntry{
						value:        strings.ToLower(value),
						instrumentor: instr,
						provider:     provider,
					})
				}
			}
		}
	}

	// Size first, then provider name: bySize is filled from map
	// iteration, and the subset scan must not flap between equally
	// sized signatures across processes.
	sort.SliceStable(d.bySize, func(i, j int) bool {
		if len(d.bySize[i].keys) != len(d.bySize[j].keys) {
			return len(d.bySize[i].keys) > len(d.bySize[j].keys)
		}
		return d.bySize[i].provider < d.bySize[j].provider
	})

	for key := range d.explicit {
		d.explicitKeys = append(d.explicitKeys, key)
	}
	sort.Strings(d.explicitKeys)

	return d
}

// Detect resolves the instrumentor and provider for an attribute set.
func (d *Detector) Detect(attrs map[string]any) Result {
	keys := vendorKeys(attrs)

	instrumentor := d.detectInstrumentor(keys)
	if instrumentor == Unknown {
		return Result{Instrumentor: Unknown, Provider: Unknown}
	}

	canonical := strings.Join(keys, keysetSeparator)
	hashed := d.memoKey(canonical, attrs)
	if cached, ok := d.results.Get(hashed); ok && cached.Instrumentor == instrumentor {
		return cached
	}

	result := d.detectProvider(instrumentor, keys, canonical, attrs)
	d.results.Set(hashed, result)
	return result
}

// memoKey is FNV-64a over the canonical keyset form and the values of
// any explicit-detection fields present. The keyset alone is not
// enough: identical shapes carrying gen_ai.system=openai and
// gen_ai.system=mistral detect different providers. Hashing keeps memo
// entries small; a steady workload holds thousands of shapes, each
// potentially hundreds of bytes of keys.
func (d *Detector) memoKey(canonical string, attrs map[string]any) uint64 {
	h := fnv.New64a()
	h.Write([]byte(canonical))
	for _, key := range d.explicitKeys {
		if value, ok := attrs[key].(string); ok {
			h.Write([]byte(keysetSeparator))
			h.Write([]byte(key))
			h.Write([]byte{'='})
			h.Write([]byte(value))
		}
	}
	return h.Sum64()
}

// vendorKeys returns the span's attribute keys sorted, minus the SDK's
// own wire attributes: enrichment written on span start must not
// dilute signature matching.
func vendorKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		// Both namespaces are ours: honeyhive_* canonical attributes
		// and honeyhive.* enrichment mirrors of baggage.
		if strings.HasPrefix(key, "honeyhive") || strings.HasPrefix(key, "traceloop.association.") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// detectInstrumentor tallies dialect prefixes over the keys; the
// highest count wins. Ties and the priority of overlapping dialects
// resolve in bundle-independent order: traceloop, openinference,
// openlit. Zero matches means an uninstrumented span.
func (d *Detector) detectInstrumentor(keys []string) string {
	counts := make(map[string]int, len(d.prefixes))
	for _, key := range keys {
		for prefix, instr := range d.prefixes {
			if strings.HasPrefix(key, prefix) {
				counts[instr]++
			}
		}
	}

	winner := Unknown
	best := 0
	for _, instr := range []string{InstrumentorTraceloop, InstrumentorOpenInference, InstrumentorOpenLIT} {
		if counts[instr] > best {
			winner = instr
			best = counts[instr]
		}
	}
	if best == 0 {
		// Dialects beyond the three built-ins still win on count.
		for instr, count := range counts {
			if count > best {
				winner = instr
				best = count
			}
		}
	}
	if best == 0 {
		return Unknown
	}
	return winner
}

// detectProvider runs the three-stage provider walk: exact signature
// index, explicit field values, then size-ordered subset containment.
func (d *Detector) detectProvider(instrumentor string, keys []string, canonical string, attrs map[string]any) Result {
	// Stage 1: the whole keyset is a catalogued signature.
	if entry, ok := d.signatures[canonical]; ok && entry.instrumentor == instrumentor {
		return Result{Instrumentor: instrumentor, Provider: entry.provider, Confidence: 1.0}
	}

	// Stage 2: an explicit field carries a known provider value. Keys
	// walk in sorted order so a span naming two providers at once
	// resolves the same way every time.
	for _, key := range d.explicitKeys {
		value, ok := attrs[key].(string)
		if !ok {
			continue
		}
		value = strings.ToLower(value)
		for _, candidate := range d.explicit[key] {
			if candidate.instrumentor == instrumentor && candidate.value == value {
				return Result{Instrumentor: instrumentor, Provider: candidate.provider, Confidence: 1.0}
			}
		}
	}

	// Stage 3: largest catalogued signature fully contained in the
	// keyset.
	if len(d.bySize) > 0 {
		keyset := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			keyset[key] = struct{}{}
		}
		for _, entry := range d.bySize {
			if entry.instrumentor != instrumentor {
				continue
			}
			if containsAll(keyset, entry.keys) {
				confidence := 0.0
				if len(keys) > 0 {
					confidence = float64(len(entry.keys)) / float64(len(keys))
				}
				return Result{Instrumentor: instrumentor, Provider: entry.provider, Confidence: confidence}
			}
		}
	}

	return Result{Instrumentor: instrumentor, Provider: Unknown}
}

func containsAll(keyset map[string]struct{}, keys []string) bool {
	for _, key := range keys {
		if _, ok := keyset[key]; !ok {
			return false
		}
	}
	return true
}
