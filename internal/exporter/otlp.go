package exporter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"path"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// TraceSenderConfig configures the OTLP transport.
type TraceSenderConfig struct {
	// ServerURL is the API base URL. The HTTP transport posts to
	// {ServerURL}/opentelemetry/v1/traces; the gRPC transport targets
	// the host only, since OTLP/gRPC is not path-addressed.
	ServerURL string

	// APIKey becomes the Authorization bearer header.
	APIKey string

	// Project becomes the X-Project header.
	Project string

	// Source becomes the X-Source header.
	Source string

	// Timeout bounds one export request (default: 10s).
	Timeout time.Duration

	// UseGRPC switches from OTLP/HTTP to OTLP/gRPC.
	UseGRPC bool
}

// TraceSender adapts an otlptrace exporter to the engine. The OTLP
// clients report failures as opaque strings, so no permanent
// classification happens here: the engine retries every send error
// until its policy gives up. The client's own retry layer is disabled
// to keep the engine's accounting truthful.
type TraceSender struct {
	exporter *otlptrace.Exporter
}

var _ Sender[sdktrace.ReadOnlySpan] = (*TraceSender)(nil)

// NewTraceSender builds the OTLP client for cfg and prepares it for
// use. Neither transport dials eagerly; connection failures surface on
// the first send.
func NewTraceSender(ctx context.Context, cfg TraceSenderConfig) (*TraceSender, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("exporter: parse server url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("exporter: server url %q has no host", cfg.ServerURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	headers := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
	}
	if cfg.Project != "" {
		headers["X-Project"] = cfg.Project
	}
	if cfg.Source != "" {
		headers["X-Source"] = cfg.Source
	}

	var client otlptrace.Client
	if cfg.UseGRPC {
		client = newGRPCClient(u, headers, timeout)
	} else {
		client = newHTTPClient(u, headers, timeout)
	}

	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("exporter: start otlp client: %w", err)
	}
	return &TraceSender{exporter: exp}, nil
}

func newHTTPClient(u *url.URL, headers map[string]string, timeout time.Duration) otlptrace.Client {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithURLPath(path.Join("/", u.Path, "opentelemetry", "v1", "traces")),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		otlptracehttp.WithTimeout(timeout),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.NewClient(opts...)
}

func newGRPCClient(u *url.URL, headers map[string]string, timeout time.Duration) otlptrace.Client {
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "http" {
			host = u.Hostname() + ":80"
		} else {
			host = u.Hostname() + ":443"
		}
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(host),
		otlptracegrpc.WithHeaders(headers),
		otlptracegrpc.WithCompressor("gzip"),
		otlptracegrpc.WithTimeout(timeout),
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{Enabled: false}),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	return otlptracegrpc.NewClient(opts...)
}

// Send exports one batch of finished spans.
func (s *TraceSender) Send(ctx context.Context, batch []sdktrace.ReadOnlySpan) error {
	if len(batch) == 0 {
		return nil
	}
	return s.exporter.ExportSpans(ctx, batch)
}

// Shutdown closes the underlying OTLP client.
func (s *TraceSender) Shutdown(ctx context.Context) error {
	return s.exporter.Shutdown(ctx)
}
