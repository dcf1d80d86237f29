package exporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTraceSenderPostsToOTLPPath(t *testing.T) {
	var gotPath, gotAuth, gotProject, gotSource, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotProject = r.Header.Get("X-Project")
		gotSource = r.Header.Get("X-Source")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewTraceSender(context.Background(), TraceSenderConfig{
		ServerURL: srv.URL,
		APIKey:    "hh-key",
		Project:   "demo-project",
		Source:    "test",
	})
	if err != nil {
		t.Fatalf("NewTraceSender() error = %v", err)
	}
	defer sender.Shutdown(context.Background())

	spans := tracetest.SpanStubs{{Name: "openai.chat"}}.Snapshots()
	if err := sender.Send(context.Background(), spans); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotPath != "/opentelemetry/v1/traces" {
		t.Errorf("path = %q, want /opentelemetry/v1/traces", gotPath)
	}
	if gotAuth != "Bearer hh-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotProject != "demo-project" || gotSource != "test" {
		t.Errorf("X-Project = %q, X-Source = %q", gotProject, gotSource)
	}
	if gotContentType != "application/x-protobuf" {
		t.Errorf("Content-Type = %q, want application/x-protobuf", gotContentType)
	}
}

func TestTraceSenderKeepsServerURLPathPrefix(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewTraceSender(context.Background(), TraceSenderConfig{
		ServerURL: srv.URL + "/proxy",
		APIKey:    "k",
	})
	if err != nil {
		t.Fatalf("NewTraceSender() error = %v", err)
	}
	defer sender.Shutdown(context.Background())

	if err := sender.Send(context.Background(), tracetest.SpanStubs{{Name: "s"}}.Snapshots()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/proxy/opentelemetry/v1/traces" {
		t.Errorf("path = %q, want the base path preserved", gotPath)
	}
}

func TestTraceSenderSurfacesFailureWithoutClientRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender, err := NewTraceSender(context.Background(), TraceSenderConfig{
		ServerURL: srv.URL,
		APIKey:    "k",
	})
	if err != nil {
		t.Fatalf("NewTraceSender() error = %v", err)
	}
	defer sender.Shutdown(context.Background())

	if err := sender.Send(context.Background(), tracetest.SpanStubs{{Name: "s"}}.Snapshots()); err == nil {
		t.Fatalf("Send() error = nil, want server failure")
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1: retry belongs to the engine, not the client", calls.Load())
	}
}

func TestTraceSenderEmptyBatch(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	sender, err := NewTraceSender(context.Background(), TraceSenderConfig{ServerURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewTraceSender() error = %v", err)
	}
	defer sender.Shutdown(context.Background())

	if err := sender.Send(context.Background(), nil); err != nil {
		t.Fatalf("Send(nil) error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want 0 for an empty batch", calls.Load())
	}
}

func TestNewTraceSenderRejectsBadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "unparseable", url: "://nope"},
		{name: "no host", url: "relative/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTraceSender(context.Background(), TraceSenderConfig{ServerURL: tt.url}); err == nil {
				t.Errorf("NewTraceSender(%q) error = nil, want failure", tt.url)
			}
		})
	}
}
