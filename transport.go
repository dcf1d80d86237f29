package honeyhive

import (
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// httpPropagator injects trace context and baggage into outbound
// requests regardless of what the host process set globally.
var httpPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// InstrumentHTTPClient returns a copy of client whose requests run
// inside client spans carrying the tracer's session baggage. The
// input client is not modified. A nil client instruments
// http.DefaultTransport. When HTTP tracing is disabled the client is
// returned unchanged.
func (t *Tracer) InstrumentHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	if t == nil || t.cfg.DisableHTTPTracing || t.disabled.Load() {
		return client
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &tracingTransport{base: base, tracer: t}
	return &wrapped
}

// tracingTransport wraps a RoundTripper with span creation and
// context propagation.
type tracingTransport struct {
	base   http.RoundTripper
	tracer *Tracer
}

func (tt *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := tt.tracer.StartSpan(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.HTTPMethod(req.Method),
		semconv.HTTPURL(req.URL.String()),
	)

	// Clone before injecting headers; the caller may reuse req.
	req = req.Clone(ctx)
	httpPropagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := tt.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}
