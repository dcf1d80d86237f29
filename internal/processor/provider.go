package processor

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/logging"
)

// installMu serializes the process-global provider decision across
// concurrently initializing tracers.
var installMu sync.Mutex

// InstallGlobal decides whether provider becomes the process-global
// OTel tracer provider. A functioning SDK provider already installed
// by the host (or by an earlier tracer) is never replaced; the no-op
// default and the API's lazy proxy are. When we win, the composite
// TraceContext+Baggage propagator is installed with the provider so
// session baggage crosses process boundaries. Returns true when
// provider became global.
func InstallGlobal(provider trace.TracerProvider, log *logging.Logger) bool {
	if log == nil {
		log = logging.Nop()
	}

	installMu.Lock()
	defer installMu.Unlock()

	ctx := context.Background()
	if current := otel.GetTracerProvider(); isRealProvider(current) {
		log.Debug(ctx, "global tracer provider kept", "current", fmt.Sprintf("%T", current))
		return false
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Debug(ctx, "global tracer provider installed")
	return true
}

// isRealProvider distinguishes a working SDK provider from the no-op
// and proxy stand-ins the OTel API hands out before anything real is
// registered. Real providers carry a Shutdown method; the stand-ins do
// not.
func isRealProvider(tp trace.TracerProvider) bool {
	if tp == nil {
		return false
	}
	_, ok := tp.(interface{ Shutdown(context.Context) error })
	return ok
}
