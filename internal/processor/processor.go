// Package processor is the span pipeline between instrumented code and
// the exporters. It enriches spans from baggage when they start, runs
// canonical extraction in a pre-end hook for spans created through the
// SDK facade, and on span end builds the canonical event (or forwards
// the raw span) to exactly one exporter engine.
package processor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
	"github.com/honeyhiveai/honeyhive-go/internal/detect"
	"github.com/honeyhiveai/honeyhive-go/internal/exporter"
	"github.com/honeyhiveai/honeyhive-go/internal/logging"
	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

var errExporterMode = errors.New("processor: exactly one exporter engine must be configured")

// Config wires one processor to its tracer instance. Exactly one of
// Spans or Events must be set; it decides the export path for every
// span this processor sees.
type Config struct {
	// TracerID identifies the owning tracer instance; stamped on every
	// span so events route back to their tracer.
	TracerID string

	// Project and Source fill event identity when baggage carries none.
	Project string
	Source  string

	// SessionID is the instance default session for spans started
	// outside any WithSession context. Empty means events derive their
	// session from the trace id.
	SessionID string

	// Bundle drives detection and extraction. Nil (bundle failed to
	// load) skips extraction; spans still flow with identity and
	// timing.
	Bundle *bundle.Bundle

	// Spans is the OTLP engine; set in OTLP export mode.
	Spans *exporter.Engine[sdktrace.ReadOnlySpan]

	// Events is the event-API engine; set in event export mode.
	Events *exporter.Engine[*models.Event]

	// Disabled is the kill switch: while true, finished spans are
	// dropped before any work happens. Shared with the owning tracer.
	Disabled *atomic.Bool

	// Degraded refuses network export while keeping local behavior
	// intact: spans are still enriched and events still built and
	// tagged, but nothing reaches the engine. Set when credentials are
	// missing, the rule bundle fails to load, or session creation
	// fails.
	Degraded *atomic.Bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Processor implements sdktrace.SpanProcessor.
type Processor struct {
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Metrics

	det     *detect.Detector
	extract *detect.Engine

	schemaVersion string
	engineName    string
}

var _ sdktrace.SpanProcessor = (*Processor)(nil)

// New builds a processor for one tracer instance.
func New(cfg Config) (*Processor, error) {
	if (cfg.Spans == nil) == (cfg.Events == nil) {
		return nil, errExporterMode
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	p := &Processor{
		cfg:        cfg,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		engineName: "events",
	}
	if cfg.Spans != nil {
		p.engineName = "otlp"
	}
	if cfg.Bundle != nil {
		p.det = detect.NewDetector(cfg.Bundle)
		p.extract = detect.NewEngine(cfg.Bundle, cfg.Logger)
		p.schemaVersion = cfg.Bundle.SchemaVersion
	}
	return p, nil
}

// OnStart copies session identity from baggage onto the span and
// records the name-based event-type pre-pass. Runs inline on the
// caller; it must never panic through to host code.
func (p *Processor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	defer p.guard("on_start")

	vals := baggage.Read(parent)
	if vals.SessionID == "" {
		vals.SessionID = p.cfg.SessionID
	}
	if vals.Project == "" {
		vals.Project = p.cfg.Project
	}
	if vals.Source == "" {
		vals.Source = p.cfg.Source
	}

	attrs := make([]attribute.KeyValue, 0, 6+len(vals.Experiment))
	if vals.SessionID != "" {
		attrs = append(attrs, attribute.String(baggage.KeySessionID, vals.SessionID))
	}
	if vals.Project != "" {
		attrs = append(attrs, attribute.String(baggage.KeyProject, vals.Project))
	}
	if vals.Source != "" {
		attrs = append(attrs, attribute.String(baggage.KeySource, vals.Source))
	}
	if vals.ParentID != "" {
		attrs = append(attrs, attribute.String(baggage.KeyParentID, vals.ParentID))
	}
	if p.cfg.TracerID != "" {
		attrs = append(attrs, attribute.String(baggage.KeyTracerID, p.cfg.TracerID))
	}
	for key, value := range vals.Experiment {
		attrs = append(attrs, attribute.String(baggage.ExperimentPrefix+key, value))
	}
	s.SetAttributes(attrs...)

	p.metrics.RecordSpan(string(EventTypeOf(s.Name(), attrMap(s.Attributes()))))
}

// OnEnd dispatches the finished span to the configured exporter. The
// span is immutable here: extraction for third-party spans runs on the
// read-only attribute view.
func (p *Processor) OnEnd(ro sdktrace.ReadOnlySpan) {
	defer p.guard("on_end")

	if p.cfg.Disabled != nil && p.cfg.Disabled.Load() {
		p.metrics.RecordDrop(p.engineName, "disabled", 1)
		return
	}
	degraded := p.cfg.Degraded != nil && p.cfg.Degraded.Load()

	if p.cfg.Spans != nil {
		if degraded {
			p.metrics.RecordDrop(p.engineName, "degraded", 1)
			return
		}
		if err := p.cfg.Spans.Enqueue(ro); err != nil {
			p.log.Debug(context.Background(), "span not exported", "span", ro.Name(), "error", err)
		}
		return
	}

	ev := p.buildEvent(ro)
	if degraded {
		p.metrics.RecordDrop(p.engineName, "degraded", 1)
		p.log.Debug(context.Background(), "event dropped: tracer degraded", "event", ev.EventName, "event_id", ev.EventID)
		return
	}
	if err := p.cfg.Events.Enqueue(ev); err != nil {
		p.log.Debug(context.Background(), "event not exported", "event_id", ev.EventID, "error", err)
	}
}

// buildEvent turns a finished span into the canonical event. Spans the
// pre-end hook already processed are decoded from their canonical
// attributes; everything else goes through detection and extraction.
func (p *Processor) buildEvent(ro sdktrace.ReadOnlySpan) *models.Event {
	attrs := attrMap(ro.Attributes())
	sc := ro.SpanContext()
	traceID := [16]byte(sc.TraceID())

	ev := &models.Event{
		EventID:   models.DeriveEventID(traceID, [8]byte(sc.SpanID())),
		EventName: ro.Name(),
		EventType: EventTypeOf(ro.Name(), attrs),
		TracerID:  p.cfg.TracerID,
		Inputs:    map[string]any{},
		Outputs:   map[string]any{},
		Config:    map[string]any{},
		Metadata:  map[string]any{},
	}
	ev.SetTimes(ro.StartTime(), ro.EndTime())

	ev.SessionID, _ = attrs[baggage.KeySessionID].(string)
	if ev.SessionID == "" {
		ev.SessionID = models.DeriveSessionID(traceID)
	}
	ev.Project, _ = attrs[baggage.KeyProject].(string)
	if ev.Project == "" {
		ev.Project = p.cfg.Project
	}
	ev.Source, _ = attrs[baggage.KeySource].(string)
	if ev.Source == "" {
		ev.Source = p.cfg.Source
	}
	ev.ParentID, _ = attrs[baggage.KeyParentID].(string)
	if ev.ParentID == "" && ro.Parent().SpanID().IsValid() {
		ev.ParentID = models.DeriveEventID(traceID, [8]byte(ro.Parent().SpanID()))
	}

	if st := ro.Status(); st.Code == codes.Error {
		msg := st.Description
		if msg == "" {
			msg = "error"
		}
		ev.SetError(msg)
	}

	if scope := ro.InstrumentationScope(); scope.Name != "" {
		ev.Metadata["scope"] = map[string]any{
			"name":    scope.Name,
			"version": scope.Version,
		}
	}
	for key, value := range attrs {
		if rest, ok := strings.CutPrefix(key, baggage.ExperimentPrefix); ok && rest != "" {
			ev.Metadata["experiment."+rest] = value
		}
	}
	if p.cfg.Degraded != nil && p.cfg.Degraded.Load() {
		ev.Metadata["degraded"] = true
	}

	if !isProcessed(attrs) && p.det != nil {
		result := p.det.Detect(attrs)
		p.metrics.RecordDetection(result.Instrumentor, result.Provider)
		if result.Instrumentor != detect.Unknown {
			p.extractInto(ev, attrs, result)
		}
	}

	// Canonical attributes decode last: values set through the facade
	// or the pre-end hook win over anything extraction produced.
	p.decodeCanonical(attrs, ev)

	return ev
}

// extractInto runs the rule tables and copies the sections onto the
// event.
func (p *Processor) extractInto(ev *models.Event, attrs map[string]any, result detect.Result) {
	sections, err := p.extract.Extract(attrs, result)
	if err != nil {
		p.log.WarnOnce(context.Background(), "extract:"+result.Instrumentor, "extraction unavailable",
			"instrumentor", result.Instrumentor,
			"provider", result.Provider,
			"error", err,
		)
		return
	}
	for field, value := range sections.Inputs {
		ev.Inputs[field] = value
	}
	for field, value := range sections.Outputs {
		ev.Outputs[field] = value
	}
	for field, value := range sections.Config {
		ev.Config[field] = value
	}
	for field, value := range sections.Metadata {
		ev.Metadata[field] = value
	}
	if _, ok := ev.Config["provider"]; !ok && result.Provider != detect.Unknown {
		ev.Config["provider"] = result.Provider
	}
}

// decodeCanonical reads honeyhive_* section attributes back into the
// event. JSON-encoded complex values are decoded; scalars pass
// through.
func (p *Processor) decodeCanonical(attrs map[string]any, ev *models.Event) {
	lazy := func(m *map[string]any) map[string]any {
		if *m == nil {
			*m = map[string]any{}
		}
		return *m
	}
	for key, value := range attrs {
		switch {
		case strings.HasPrefix(key, PrefixInputs):
			ev.Inputs[key[len(PrefixInputs):]] = decodeValue(value)
		case strings.HasPrefix(key, PrefixOutputs):
			ev.Outputs[key[len(PrefixOutputs):]] = decodeValue(value)
		case strings.HasPrefix(key, PrefixConfig):
			ev.Config[key[len(PrefixConfig):]] = decodeValue(value)
		case strings.HasPrefix(key, PrefixMetadata):
			ev.Metadata[key[len(PrefixMetadata):]] = decodeValue(value)
		case strings.HasPrefix(key, PrefixFeedback):
			lazy(&ev.Feedback)[key[len(PrefixFeedback):]] = decodeValue(value)
		case strings.HasPrefix(key, PrefixMetrics):
			lazy(&ev.Metrics)[key[len(PrefixMetrics):]] = decodeValue(value)
		case strings.HasPrefix(key, PrefixUserProperties):
			lazy(&ev.UserProperties)[key[len(PrefixUserProperties):]] = decodeValue(value)
		}
	}
}

// ForceFlush drains the exporter; part of the SpanProcessor contract.
func (p *Processor) ForceFlush(ctx context.Context) error {
	if p.cfg.Spans != nil {
		_, err := p.cfg.Spans.Flush(ctx)
		return err
	}
	_, err := p.cfg.Events.Flush(ctx)
	return err
}

// Shutdown stops the exporter engine. Safe to call more than once.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p.cfg.Spans != nil {
		return p.cfg.Spans.Shutdown(ctx)
	}
	return p.cfg.Events.Shutdown(ctx)
}

// guard is the processor-boundary panic net: a bug in enrichment,
// detection or dispatch must not take down the host application or
// prevent the span from ending. Deferred directly so recover applies
// to the caller's frame.
func (p *Processor) guard(stage string) {
	if r := recover(); r != nil {
		p.log.WarnOnce(context.Background(), "panic:"+stage, "span pipeline panic",
			"stage", stage,
			"panic", r,
		)
	}
}
