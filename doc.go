// Package honeyhive is the HoneyHive tracing SDK for Go: it captures
// LLM application telemetry as OpenTelemetry spans, normalizes the
// vendor-specific span attributes written by third-party instrumentors
// (Traceloop, OpenInference, OpenLit) into one canonical event schema,
// and delivers the result to the HoneyHive backend.
//
// # Overview
//
// A Tracer owns one export pipeline: a span processor that enriches
// spans from context baggage, a rule-driven detector/extractor that
// recognizes which instrumentation dialect a span speaks, and a
// bounded batching exporter (OTLP by default, the event API when
// OTLP is disabled). Everything runs inside the host process; the
// only background work is a fixed set of exporter workers.
//
// Basic usage:
//
//	tracer, err := honeyhive.Init(ctx, honeyhive.Config{
//	    APIKey:  os.Getenv("HH_API_KEY"),
//	    Project: "my-project",
//	})
//	if err != nil {
//	    log.Printf("honeyhive: running degraded: %v", err)
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.StartSpan(ctx, "answer_question")
//	defer span.End()
//
// Spans created by third-party instrumentors on the same tracer
// provider are picked up automatically; nothing needs to be wrapped.
//
// # Configuration
//
// Every Config field falls back to an environment variable, so
// Init(ctx, honeyhive.Config{}) works in a fully env-configured
// process:
//
//	HH_API_KEY              api key (required for export)
//	HH_PROJECT              project name (required)
//	HH_SOURCE               deployment source (default "production")
//	HH_API_URL              backend base URL
//	HH_SESSION_ID           pre-set session id
//	HH_VERBOSE              debug logging
//	HH_DISABLE_TRACING      turn the tracer into a no-op
//	HH_DISABLE_HTTP_TRACING skip outbound HTTP instrumentation
//	HH_OTLP_ENABLED         OTLP span export (default true)
//	HH_BUNDLE_PATH          rule bundle override
//	HH_EXPERIMENT_*         experiment context (run id, variant, ...)
//
// # Failure behavior
//
// The SDK never crashes the host. Invalid configuration, an unloadable
// rule bundle, or a failed session start put the tracer into degraded
// mode: spans are still created and enriched locally, but nothing is
// exported and drops are counted. Export backpressure drops spans
// rather than blocking the caller.
package honeyhive
