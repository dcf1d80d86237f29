package processor

import (
	"sync"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeyhiveai/honeyhive-go/internal/logging"
)

// The global provider can be claimed once per process, so the whole
// decision sequence lives in a single test: racing installs against a
// pristine global, then the never-downgrade rule, then the
// noop-replacement rule.
func TestInstallGlobal(t *testing.T) {
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if InstallGlobal(sdktrace.NewTracerProvider(), logging.Nop()) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("%d installs won, want exactly 1", got)
	}

	// A real provider is established now; later tracers must not
	// replace it.
	if InstallGlobal(sdktrace.NewTracerProvider(), logging.Nop()) {
		t.Error("InstallGlobal replaced an established SDK provider")
	}

	// An explicitly registered no-op provider is fair game.
	otel.SetTracerProvider(noop.NewTracerProvider())
	if !InstallGlobal(sdktrace.NewTracerProvider(), nil) {
		t.Error("InstallGlobal kept a no-op provider")
	}
}

func TestIsRealProvider(t *testing.T) {
	if isRealProvider(nil) {
		t.Error("nil provider reported as real")
	}
	if isRealProvider(noop.NewTracerProvider()) {
		t.Error("noop provider reported as real")
	}
	if !isRealProvider(sdktrace.NewTracerProvider()) {
		t.Error("SDK provider not reported as real")
	}
}
