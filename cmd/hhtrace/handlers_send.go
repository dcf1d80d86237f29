package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	honeyhive "github.com/honeyhiveai/honeyhive-go"
)

// =============================================================================
// Send Command Handlers
// =============================================================================

// runSend handles the send command.
func runSend(cmd *cobra.Command, name, eventType string, inputs []string, timeout time.Duration) error {
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	inputMap := make(map[string]any, len(inputs))
	for _, pair := range inputs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --input %q: want key=value", pair)
		}
		inputMap[key] = value
	}

	// Force the event-API path; that is the connectivity under test.
	otlpOff := false
	tr, err := honeyhive.NewTracer(ctx, honeyhive.Config{
		SessionName:  "hhtrace send",
		OTLPEnabled:  &otlpOff,
		DisableBatch: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer tr.Shutdown(context.WithoutCancel(ctx))

	ctx, span := tr.StartSpan(ctx, name)
	enrich := honeyhive.Enrichment{
		EventType: honeyhive.EventType(eventType),
		Metadata:  map[string]any{"sent_by": "hhtrace", "cli_version": version},
	}
	if len(inputMap) > 0 {
		enrich.Inputs = inputMap
	}
	if err := honeyhive.EnrichSpan(span, enrich); err != nil {
		span.End()
		return err
	}
	span.End()

	stats, err := tr.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}

	fmt.Fprintf(out, "Session: %s\n", tr.SessionID())
	fmt.Fprintf(out, "Event:   %s (%s)\n", name, eventType)
	fmt.Fprintf(out, "Result:  flushed=%d dropped=%d cancelled=%d\n",
		stats.Flushed, stats.Dropped, stats.Cancelled)

	if stats.Flushed == 0 {
		return fmt.Errorf("backend did not acknowledge the event")
	}
	return nil
}
