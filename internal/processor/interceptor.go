package processor

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/detect"
)

// WrapSpan installs the pre-end hook on a span created through the
// SDK facade. The hook runs detection and extraction while the span is
// still mutable, writes the canonical honeyhive_* attributes, and only
// then lets the span end. Non-recording spans pass through untouched.
func (p *Processor) WrapSpan(span trace.Span) trace.Span {
	if span == nil || !span.IsRecording() {
		return span
	}
	return &hookedSpan{Span: span, proc: p}
}

// hookedSpan defers canonical extraction to the moment between "the
// instrumentor wrote its last attribute" and "the span became
// immutable". That window only exists inside End.
type hookedSpan struct {
	trace.Span
	proc *Processor
	once sync.Once
}

// End runs the pre-end hook exactly once, then ends the span. Repeat
// calls fall through to the SDK span, which already treats them as
// no-ops.
func (s *hookedSpan) End(opts ...trace.SpanEndOption) {
	s.once.Do(func() { s.proc.preEnd(s.Span) })
	s.Span.End(opts...)
}

// preEnd is the mutable-window pass: detect, extract, write canonical
// attributes, mark the span processed. Attribute reads need the SDK's
// read-write span; spans from foreign providers skip the hook and get
// the read-only treatment in OnEnd instead.
func (p *Processor) preEnd(span trace.Span) {
	defer p.guard("pre_end")

	rw, ok := span.(sdktrace.ReadWriteSpan)
	if !ok || !span.IsRecording() {
		return
	}

	attrs := attrMap(rw.Attributes())
	if isProcessed(attrs) {
		return
	}

	if p.det != nil {
		result := p.det.Detect(attrs)
		p.metrics.RecordDetection(result.Instrumentor, result.Provider)
		if result.Instrumentor != detect.Unknown {
			p.writeSections(rw, attrs, result)
		}
	}

	// The processed flag travels as the string "true": wire consumers
	// in other runtimes compare it literally.
	marks := []attribute.KeyValue{attribute.String(AttrProcessed, "true")}
	if _, ok := attrs[AttrEventType]; !ok {
		marks = append(marks, attribute.String(AttrEventType, string(EventTypeOf(rw.Name(), attrs))))
	}
	if p.schemaVersion != "" {
		marks = append(marks, attribute.String(AttrSchemaVersion, p.schemaVersion))
	}
	span.SetAttributes(marks...)
}

// writeSections extracts the canonical sections and writes them back
// onto the span under the honeyhive_* prefixes.
func (p *Processor) writeSections(span sdktrace.ReadWriteSpan, attrs map[string]any, result detect.Result) {
	sections, err := p.extract.Extract(attrs, result)
	if err != nil {
		p.log.WarnOnce(context.Background(), "extract:"+result.Instrumentor, "extraction unavailable",
			"instrumentor", result.Instrumentor,
			"provider", result.Provider,
			"error", err,
		)
		return
	}

	kvs := make([]attribute.KeyValue, 0,
		len(sections.Inputs)+len(sections.Outputs)+len(sections.Config)+len(sections.Metadata)+1)
	kvs = append(kvs, EncodeSection(PrefixInputs, sections.Inputs)...)
	kvs = append(kvs, EncodeSection(PrefixOutputs, sections.Outputs)...)
	kvs = append(kvs, EncodeSection(PrefixConfig, sections.Config)...)
	kvs = append(kvs, EncodeSection(PrefixMetadata, sections.Metadata)...)
	if _, ok := sections.Config["provider"]; !ok && result.Provider != detect.Unknown {
		kvs = append(kvs, attribute.String(PrefixConfig+"provider", result.Provider))
	}
	span.SetAttributes(kvs...)
}
