package honeyhive

import "errors"

// Configuration and lifecycle sentinels. NewTracer reports the
// configuration errors while still returning a usable degraded tracer;
// the caller decides whether to crash or continue.
var (
	// ErrMissingAPIKey reports that no api key was configured. The
	// tracer runs degraded: spans flow locally, nothing is exported.
	ErrMissingAPIKey = errors.New("honeyhive: missing api key")

	// ErrMissingProject reports that no project was configured.
	ErrMissingProject = errors.New("honeyhive: missing project")

	// ErrInvalidServerURL reports a server URL without a usable host.
	ErrInvalidServerURL = errors.New("honeyhive: invalid server url")

	// ErrSpanEnded reports an enrichment attempt on a span that has
	// already ended; ended spans are immutable.
	ErrSpanEnded = errors.New("honeyhive: span already ended")

	// ErrShutdown reports an operation on a tracer after Shutdown.
	ErrShutdown = errors.New("honeyhive: tracer shut down")
)
