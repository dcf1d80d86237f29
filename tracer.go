package honeyhive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeyhiveai/honeyhive-go/internal/api"
	"github.com/honeyhiveai/honeyhive-go/internal/backoff"
	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
	"github.com/honeyhiveai/honeyhive-go/internal/exporter"
	"github.com/honeyhiveai/honeyhive-go/internal/logging"
	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/internal/processor"
	"github.com/honeyhiveai/honeyhive-go/internal/registry"
	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

// scopeName identifies spans started through this SDK.
const scopeName = "github.com/honeyhiveai/honeyhive-go"

// defaultShutdownTimeout bounds the final flush when the caller's
// context has no deadline of its own.
const defaultShutdownTimeout = 10 * time.Second

// tracers indexes live tracer instances by id. Entries are weak: a
// tracer abandoned without Shutdown stays collectable and its slot
// reads as absent afterwards.
var tracers = registry.New[Tracer]()

// noopTracer backs span creation for nil and disabled tracers.
var noopTracer = noop.NewTracerProvider().Tracer(scopeName)

// Tracer is the SDK facade: it owns one span pipeline (processor,
// detector, exporter engine) and the session every captured event
// belongs to. All methods are safe on a nil receiver and after
// Shutdown.
type Tracer struct {
	id  string
	cfg Config

	log     *logging.Logger
	metrics *metrics.Metrics

	bundle    *bundle.Bundle
	client    *api.Client
	sessionID string

	provider   *sdktrace.TracerProvider
	ownsGlobal bool
	tracer     trace.Tracer
	proc       *processor.Processor

	spans  *exporter.Engine[sdktrace.ReadOnlySpan]
	events *exporter.Engine[*models.Event]

	disabled atomic.Bool
	degraded atomic.Bool

	shutdownOnce sync.Once
	shutdown     atomic.Bool
	shutdownErr  error
}

// FlushStats reports what one Flush call did with pending telemetry.
type FlushStats struct {
	// Flushed is the number of items the backend acknowledged.
	Flushed uint64
	// Dropped is the number of items abandoned as permanent failures.
	Dropped uint64
	// Cancelled is the number of items still in flight when the
	// deadline cut their retries short.
	Cancelled uint64
}

// NewTracer builds a tracer from cfg (fields fall back to HH_*
// environment variables). The returned tracer is always usable: on
// configuration or session errors it comes up in degraded mode — spans
// flow locally, nothing is exported — and the error says why, leaving
// the crash-or-continue decision to the caller.
func NewTracer(ctx context.Context, cfg Config) (*Tracer, error) {
	resolved, cfgErr := cfg.resolve()

	t := &Tracer{
		id:      uuid.NewString(),
		cfg:     resolved,
		log:     logging.New(logging.Config{Verbose: resolved.Verbose, Output: resolved.LogOutput}),
		metrics: metrics.New(),
	}
	ctx = logging.WithTracerID(ctx, t.id)

	if resolved.DisableTracing {
		t.disabled.Store(true)
		t.tracer = noopTracer
		t.log.Debug(ctx, "tracing disabled by configuration")
		return t, nil
	}

	if cfgErr != nil {
		t.degraded.Store(true)
		t.log.Warn(ctx, "tracer degraded: configuration incomplete", "error", cfgErr)
	}

	b, bundleErr := bundle.NewLoader(resolved.BundlePath).Load()
	if bundleErr != nil {
		t.degraded.Store(true)
		t.log.Warn(ctx, "tracer degraded: rule bundle unavailable, canonical extraction disabled", "error", bundleErr)
	}
	t.bundle = b

	t.client = api.NewClient(api.Config{
		ServerURL:  resolved.ServerURL,
		APIKey:     resolved.APIKey,
		Project:    resolved.Project,
		Source:     resolved.Source,
		Timeout:    resolved.HTTPTimeout,
		HTTPClient: resolved.HTTPClient,
		Logger:     t.log,
	})

	t.sessionID = resolved.SessionID
	sessionErr := t.startSession(ctx)

	t.buildEngines(ctx)

	proc, err := processor.New(processor.Config{
		TracerID:  t.id,
		Project:   resolved.Project,
		Source:    resolved.Source,
		SessionID: t.sessionID,
		Bundle:    t.bundle,
		Spans:     t.spans,
		Events:    t.events,
		Disabled:  &t.disabled,
		Degraded:  &t.degraded,
		Logger:    t.log,
		Metrics:   t.metrics,
	})
	if err != nil {
		t.disabled.Store(true)
		t.tracer = noopTracer
		return t, errors.Join(cfgErr, bundleErr, sessionErr, err)
	}
	t.proc = proc

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(proc),
		sdktrace.WithResource(t.buildResource(ctx)),
	)
	t.ownsGlobal = processor.InstallGlobal(t.provider, t.log)
	t.tracer = t.provider.Tracer(scopeName, trace.WithInstrumentationVersion(Version))

	tracers.Register(t.id, t)
	t.log.Info(ctx, "tracer initialized",
		"project", resolved.Project,
		"source", resolved.Source,
		"session_id", t.sessionID,
		"export", t.exportMode(),
		"main_provider", t.ownsGlobal,
		"degraded", t.degraded.Load(),
	)

	return t, errors.Join(cfgErr, bundleErr, sessionErr)
}

// Init builds a tracer and makes it the process default, so
// FromContext and package-level helpers resolve to it.
func Init(ctx context.Context, cfg Config) (*Tracer, error) {
	t, err := NewTracer(ctx, cfg)
	SetDefaultTracer(t)
	return t, err
}

// startSession establishes the backend session row the tracer's events
// hang off. A pre-set id is trusted as-is; a creation failure degrades
// the tracer instead of failing the host.
func (t *Tracer) startSession(ctx context.Context) error {
	if t.sessionID != "" {
		t.log.Debug(ctx, "using pre-set session", "session_id", t.sessionID)
		return nil
	}
	if t.degraded.Load() {
		return nil
	}

	id, err := t.client.StartSession(ctx, api.SessionStart{
		Project:     t.cfg.Project,
		Source:      t.cfg.Source,
		SessionName: t.cfg.SessionName,
	})
	if err != nil {
		t.degraded.Store(true)
		t.log.Warn(ctx, "tracer degraded: session start failed", "error", err)
		return fmt.Errorf("honeyhive: start session: %w", err)
	}
	if id == "" {
		// No id assigned; events fall back to per-trace session ids.
		t.log.Debug(ctx, "session start returned no id")
		return nil
	}
	t.sessionID = id
	return nil
}

// buildEngines constructs the export path: an OTLP span engine by
// default, the event-API engine when OTLP is disabled or its transport
// cannot be built.
func (t *Tracer) buildEngines(ctx context.Context) {
	opts := exporter.Options{
		QueueCapacity: t.cfg.QueueCapacity,
		MaxBatchSize:  t.cfg.MaxBatchSize,
		MaxBatchDelay: t.cfg.MaxBatchDelay,
		Workers:       t.cfg.WorkerCount,
		Retry:         t.retryPolicy(),
		Logger:        t.log,
		Metrics:       t.metrics,
	}
	if t.cfg.DisableBatch {
		opts.MaxBatchSize = 1
	}

	if t.cfg.otlpEnabled() {
		sender, err := exporter.NewTraceSender(ctx, exporter.TraceSenderConfig{
			ServerURL: t.cfg.ServerURL,
			APIKey:    t.cfg.APIKey,
			Project:   t.cfg.Project,
			Source:    t.cfg.Source,
			Timeout:   t.cfg.HTTPTimeout,
			UseGRPC:   t.cfg.OTLPOverGRPC,
		})
		if err == nil {
			opts.Name = "otlp"
			t.spans = exporter.NewEngine[sdktrace.ReadOnlySpan](sender, opts)
			if err := t.spans.Start(); err != nil {
				t.log.Warn(ctx, "span engine start", "error", err)
			}
			return
		}
		t.log.Warn(ctx, "otlp transport unavailable, falling back to event export", "error", err)
	}

	opts.Name = "events"
	t.events = exporter.NewEngine[*models.Event](exporter.NewEventSender(t.client), opts)
	if err := t.events.Start(); err != nil {
		t.log.Warn(ctx, "event engine start", "error", err)
	}
}

// retryPolicy maps the retry tunables onto a backoff policy. All-zero
// tunables defer to the engine defaults.
func (t *Tracer) retryPolicy() backoff.Policy {
	if t.cfg.RetryMaxAttempts == 0 && t.cfg.RetryBaseDelay == 0 && t.cfg.RetryMaxDelay == 0 {
		return backoff.Policy{}
	}
	p := backoff.DefaultPolicy()
	if t.cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = t.cfg.RetryMaxAttempts
	}
	if t.cfg.RetryBaseDelay > 0 {
		p.BaseDelay = t.cfg.RetryBaseDelay
	}
	if t.cfg.RetryMaxDelay > 0 {
		p.MaxDelay = t.cfg.RetryMaxDelay
	}
	return p
}

func (t *Tracer) buildResource(ctx context.Context) *resource.Resource {
	serviceName := t.cfg.Project
	if serviceName == "" {
		serviceName = "honeyhive-go"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
		semconv.DeploymentEnvironment(t.cfg.Source),
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func (t *Tracer) exportMode() string {
	if t.spans != nil {
		return "otlp"
	}
	return "events"
}

// ID is the tracer's instance id, stamped on every span it starts.
func (t *Tracer) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// SessionID is the session every span of this tracer belongs to. Empty
// when the session could not be established; events then derive a
// session id from their trace.
func (t *Tracer) SessionID() string {
	if t == nil {
		return ""
	}
	return t.sessionID
}

// Degraded reports whether the tracer accepts spans but refuses to
// export them (missing credentials or failed session start).
func (t *Tracer) Degraded() bool {
	return t != nil && t.degraded.Load()
}

// Provider exposes the tracer's OpenTelemetry provider for handing to
// third-party instrumentors. Returns a no-op provider when tracing is
// disabled.
func (t *Tracer) Provider() trace.TracerProvider {
	if t == nil || t.provider == nil {
		return noop.NewTracerProvider()
	}
	return t.provider
}

// MetricsRegistry exposes the tracer's Prometheus registry (span
// counts, export outcomes, drops, queue depth) for the host to mount
// on its metrics endpoint.
func (t *Tracer) MetricsRegistry() *prometheus.Registry {
	if t == nil {
		return prometheus.NewRegistry()
	}
	return t.metrics.Registry()
}

// Flush drains pending telemetry, honoring ctx's deadline. In-flight
// retries past the deadline are cancelled and counted.
func (t *Tracer) Flush(ctx context.Context) (FlushStats, error) {
	if t == nil {
		return FlushStats{}, nil
	}
	if t.shutdown.Load() {
		return FlushStats{}, ErrShutdown
	}

	var stats exporter.FlushStats
	var err error
	switch {
	case t.spans != nil:
		stats, err = t.spans.Flush(ctx)
	case t.events != nil:
		stats, err = t.events.Flush(ctx)
	}
	return FlushStats{Flushed: stats.Flushed, Dropped: stats.Dropped, Cancelled: stats.Cancelled}, err
}

// Shutdown flushes pending telemetry, stops the export workers and the
// provider, and deregisters the instance. Idempotent; after the first
// call every API on this tracer is a safe no-op and no background work
// remains scheduled.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.shutdownOnce.Do(func() {
		t.shutdown.Store(true)
		ctx := logging.WithTracerID(ctx, t.id)
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
			defer cancel()
		}

		// Provider shutdown drains the processor pipeline, which
		// flushes and stops the engine through the span-processor
		// contract.
		if t.provider != nil {
			t.shutdownErr = t.provider.Shutdown(ctx)
		}
		t.disabled.Store(true)

		tracers.Unregister(t.id)
		if def, ok := tracers.Default(); ok && def == t {
			tracers.SetDefault(nil)
		}
		t.log.Info(ctx, "tracer stopped")
	})
	return t.shutdownErr
}

// Context returns ctx annotated with this tracer's identity baggage:
// session, project, source, tracer id, and experiment properties.
// Values already present in ctx win, so callers can narrow a session
// or experiment for a subtree without the tracer overwriting it.
func (t *Tracer) Context(ctx context.Context) context.Context {
	if t == nil || t.disabled.Load() {
		return ctx
	}

	current := baggage.Read(ctx)
	var vals baggage.Values
	if current.SessionID == "" {
		vals.SessionID = t.sessionID
	}
	if current.Project == "" {
		vals.Project = t.cfg.Project
	}
	if current.Source == "" {
		vals.Source = t.cfg.Source
	}
	if current.TracerID == "" {
		vals.TracerID = t.id
	}
	for key, value := range t.cfg.Experiment {
		if _, ok := current.Experiment[key]; ok {
			continue
		}
		if vals.Experiment == nil {
			vals.Experiment = make(map[string]string)
		}
		vals.Experiment[key] = value
	}
	return baggage.Apply(ctx, vals)
}

// SetDefaultTracer makes t the process default used when no tracer is
// carried by context. Passing nil clears it. The registry holds the
// default weakly, so setting a default never leaks an instance.
func SetDefaultTracer(t *Tracer) {
	tracers.SetDefault(t)
}

// DefaultTracer returns the process default tracer, or nil when none
// is set or it has been collected.
func DefaultTracer() *Tracer {
	t, _ := tracers.Default()
	return t
}

// FromContext resolves the tracer for ctx: the instance whose id rides
// in the context baggage, else the process default, else nil. A nil
// result is safe to use; its methods no-op.
func FromContext(ctx context.Context) *Tracer {
	if id := baggage.Read(ctx).TracerID; id != "" {
		if t, ok := tracers.Lookup(id); ok {
			return t
		}
	}
	return DefaultTracer()
}
