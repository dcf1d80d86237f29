package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	honeyhive "github.com/honeyhiveai/honeyhive-go"
	"github.com/honeyhiveai/honeyhive-go/internal/bundle"
)

// =============================================================================
// Bundle Command Handlers
// =============================================================================

// bundleSummary is the JSON shape of "bundle info --json".
type bundleSummary struct {
	Source        string         `json:"source"`
	SchemaVersion string         `json:"schema_version"`
	Instrumentors map[string]int `json:"instrumentor_rule_counts"`
	Providers     []string       `json:"providers"`
	PricedModels  int            `json:"priced_models"`
}

// resolveBundlePath applies the SDK's override precedence: explicit
// flag, then HH_BUNDLE_PATH, then the embedded artifact (empty path).
func resolveBundlePath(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(honeyhive.EnvBundlePath)
}

// runBundleInfo handles the bundle info command.
func runBundleInfo(cmd *cobra.Command, path string, jsonOutput bool) error {
	out := cmd.OutOrStdout()

	path = resolveBundlePath(path)
	b, err := bundle.NewLoader(path).Load()
	if err != nil {
		return fmt.Errorf("failed to load bundle: %w", err)
	}

	source := "embedded"
	if path != "" {
		source = path
	}

	if jsonOutput {
		summary := bundleSummary{
			Source:        source,
			SchemaVersion: b.SchemaVersion,
			Instrumentors: make(map[string]int, len(b.Instrumentors)),
			Providers:     sortedKeys(b.Providers),
			PricedModels:  len(b.Pricing),
		}
		for name, spec := range b.Instrumentors {
			summary.Instrumentors[name] = len(spec.Rules)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(out, "Bundle: %s\n", source)
	fmt.Fprintf(out, "  Schema version: %s\n", b.SchemaVersion)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Instrumentors:")
	for _, name := range sortedKeys(b.Instrumentors) {
		spec := b.Instrumentors[name]
		fmt.Fprintf(out, "  %-16s prefix=%-12s rules=%d\n", name, spec.Prefix, len(spec.Rules))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Providers:")
	for _, name := range sortedKeys(b.Providers) {
		spec := b.Providers[name]
		overrides := 0
		for _, fields := range spec.Rules {
			overrides += len(fields)
		}
		fmt.Fprintf(out, "  %-16s detect=%d override_fields=%d\n", name, len(spec.Detect), overrides)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Pricing: %d models\n", len(b.Pricing))
	fmt.Fprintln(out, "Bundle is valid")
	return nil
}

// runBundleWatch handles the bundle watch command.
func runBundleWatch(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()

	path = resolveBundlePath(path)
	if path == "" {
		return fmt.Errorf("nothing to watch: pass --path or set %s", honeyhive.EnvBundlePath)
	}

	loader := bundle.NewLoader(path)
	if b, err := loader.Load(); err != nil {
		fmt.Fprintf(out, "[%s] load failed: %v\n", stamp(), err)
	} else {
		fmt.Fprintf(out, "[%s] loaded %s: %d providers, %d priced models\n",
			stamp(), path, len(b.Providers), len(b.Pricing))
	}
	fmt.Fprintln(out, "Watching for changes (interrupt to stop)")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := loader.Watch(ctx, func(b *bundle.Bundle, err error) {
		if err != nil {
			fmt.Fprintf(out, "[%s] reload failed: %v\n", stamp(), err)
			return
		}
		fmt.Fprintf(out, "[%s] reloaded: %d providers, %d priced models\n",
			stamp(), len(b.Providers), len(b.Pricing))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
