package honeyhive

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/processor"
	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

// EventType classifies what a span represents in the canonical schema.
type EventType = models.EventType

// Canonical event types.
const (
	EventTypeModel   = models.EventTypeModel
	EventTypeChain   = models.EventTypeChain
	EventTypeTool    = models.EventTypeTool
	EventTypeSession = models.EventTypeSession
)

// Enrichment carries canonical event fields to set on a live span.
// Complex values are JSON-encoded into span attributes and decoded
// back into the event, so nested structures survive the wire format.
// Fields set here win over anything automatic extraction produces.
type Enrichment struct {
	// EventType pins the event type; must be one of the canonical
	// types when set.
	EventType EventType

	Inputs         map[string]any
	Outputs        map[string]any
	Config         map[string]any
	Metadata       map[string]any
	Feedback       map[string]any
	Metrics        map[string]any
	UserProperties map[string]any
}

// StartSpan starts a span under this tracer. The returned context
// carries the span plus the tracer's identity baggage, so child spans
// and instrumented HTTP calls inherit the session. The span's End runs
// canonical extraction while the span is still mutable.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noopTracer.Start(ctx, name, opts...)
	}

	ctx = t.Context(ctx)
	ctx, span := t.tracer.Start(ctx, name, opts...)
	if t.proc != nil {
		if wrapped := t.proc.WrapSpan(span); wrapped != span {
			span = wrapped
			ctx = trace.ContextWithSpan(ctx, span)
		}
	}
	return ctx, span
}

// StartSpan starts a span on the tracer resolved from ctx (context
// tracer, then process default). With no tracer in scope the span is a
// no-op, so library code can instrument unconditionally.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return FromContext(ctx).StartSpan(ctx, name, opts...)
}

// EnrichSpan is the method form of EnrichSpan, for callers already
// holding a tracer.
func (t *Tracer) EnrichSpan(span trace.Span, e Enrichment) error {
	return EnrichSpan(span, e)
}

// EnrichSpan writes canonical event fields onto a live span. It fails
// with ErrSpanEnded once the span has ended; ended spans are
// immutable. Enrichment is span-local, so no tracer is needed:
// instrumented library code can enrich whatever span it was handed.
func EnrichSpan(span trace.Span, e Enrichment) error {
	if span == nil {
		return nil
	}
	if !span.IsRecording() {
		return ErrSpanEnded
	}
	if e.EventType != "" && !e.EventType.Valid() {
		return fmt.Errorf("honeyhive: invalid event type %q", e.EventType)
	}

	kvs := make([]attribute.KeyValue, 0, 8)
	if e.EventType != "" {
		kvs = append(kvs, attribute.String(AttrEventType, string(e.EventType)))
	}
	kvs = append(kvs, processor.EncodeSection(AttrPrefixInputs, e.Inputs)...)
	kvs = append(kvs, processor.EncodeSection(AttrPrefixOutputs, e.Outputs)...)
	kvs = append(kvs, processor.EncodeSection(AttrPrefixConfig, e.Config)...)
	kvs = append(kvs, processor.EncodeSection(AttrPrefixMetadata, e.Metadata)...)
	kvs = append(kvs, processor.EncodeSection(AttrPrefixFeedback, e.Feedback)...)
	kvs = append(kvs, processor.EncodeSection(AttrPrefixMetrics, e.Metrics)...)
	kvs = append(kvs, processor.EncodeSection(AttrPrefixUserProperties, e.UserProperties)...)
	if len(kvs) == 0 {
		return nil
	}
	span.SetAttributes(kvs...)
	return nil
}

// Trace runs fn inside a span named name. The input lands in the
// event's inputs as "_params_" and the returned value in its outputs
// as "result"; on error the span is marked failed and the error
// returned unchanged. A nil tracer resolves through ctx and the
// process default, so shared code can call Trace without plumbing a
// tracer through.
func Trace[In, Out any](ctx context.Context, t *Tracer, name string, in In, fn func(context.Context, In) (Out, error)) (Out, error) {
	if t == nil {
		t = FromContext(ctx)
	}

	ctx, span := t.StartSpan(ctx, name)
	defer span.End()

	if v := any(in); v != nil {
		_ = t.EnrichSpan(span, Enrichment{Inputs: map[string]any{"_params_": v}})
	}

	out, err := fn(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}

	if v := any(out); v != nil {
		_ = t.EnrichSpan(span, Enrichment{Outputs: map[string]any{"result": v}})
	}
	return out, nil
}
