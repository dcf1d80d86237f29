package honeyhive

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variable names recognized by Config resolution. Explicit
// Config fields win over the environment; the environment wins over
// built-in defaults.
const (
	EnvAPIKey             = "HH_API_KEY"
	EnvProject            = "HH_PROJECT"
	EnvSource             = "HH_SOURCE"
	EnvServerURL          = "HH_API_URL"
	EnvSessionID          = "HH_SESSION_ID"
	EnvVerbose            = "HH_VERBOSE"
	EnvDisableTracing     = "HH_DISABLE_TRACING"
	EnvDisableHTTPTracing = "HH_DISABLE_HTTP_TRACING"
	EnvOTLPEnabled        = "HH_OTLP_ENABLED"
	EnvBundlePath         = "HH_BUNDLE_PATH"

	// envExperimentPrefix namespaces experiment context variables:
	// HH_EXPERIMENT_ID, HH_EXPERIMENT_NAME, HH_EXPERIMENT_VARIANT,
	// HH_EXPERIMENT_GROUP, and any future keys.
	envExperimentPrefix = "HH_EXPERIMENT_"
)

// Defaults applied by Config resolution.
const (
	// DefaultSource is used when neither Config.Source nor HH_SOURCE
	// is set.
	DefaultSource = "production"

	// DefaultServerURL is the hosted HoneyHive backend.
	DefaultServerURL = "https://api.honeyhive.ai"
)

// Config configures one Tracer instance. The zero value is usable in a
// fully env-configured process: every field falls back to its
// environment variable, then to the documented default.
type Config struct {
	// APIKey authenticates export requests (HH_API_KEY). Required for
	// non-degraded operation.
	APIKey string

	// Project names the HoneyHive project events belong to
	// (HH_PROJECT). Required.
	Project string

	// Source labels the deployment environment, e.g. "production" or
	// "dev" (HH_SOURCE, default "production").
	Source string

	// ServerURL is the backend base URL (HH_API_URL, default
	// https://api.honeyhive.ai).
	ServerURL string

	// SessionID pre-sets the session id for every span this tracer
	// starts (HH_SESSION_ID). When set, no session is created on the
	// backend at init. When empty, the tracer starts a session and
	// adopts the id the backend assigns.
	SessionID string

	// SessionName names the session row created at init. Defaults to
	// the executable name.
	SessionName string

	// Verbose lowers the log level to debug (HH_VERBOSE).
	Verbose bool

	// DisableTracing turns the tracer into a no-op: no provider, no
	// exporters, no background work (HH_DISABLE_TRACING).
	DisableTracing bool

	// DisableHTTPTracing makes InstrumentHTTPClient return clients
	// unchanged (HH_DISABLE_HTTP_TRACING).
	DisableHTTPTracing bool

	// OTLPEnabled selects the export path: spans over OTLP when true,
	// canonical events over the REST API when false (HH_OTLP_ENABLED,
	// default true).
	OTLPEnabled *bool

	// OTLPOverGRPC switches the OTLP transport from HTTP to gRPC.
	OTLPOverGRPC bool

	// DisableBatch flushes every span individually instead of
	// batching. Meant for tests and short-lived scripts.
	DisableBatch bool

	// BundlePath overrides the embedded extraction rule bundle with a
	// file on disk (HH_BUNDLE_PATH).
	BundlePath string

	// MaxBatchSize is the largest export batch (default 128).
	MaxBatchSize int

	// MaxBatchDelay flushes a partial batch after this long
	// (default 5s).
	MaxBatchDelay time.Duration

	// QueueCapacity bounds the export queue; spans beyond it are
	// dropped and counted (default 2048).
	QueueCapacity int

	// WorkerCount is the number of concurrent export workers
	// (default 2).
	WorkerCount int

	// HTTPTimeout bounds each export request (default 10s).
	HTTPTimeout time.Duration

	// RetryMaxAttempts caps send attempts per batch, including the
	// first (default 4).
	RetryMaxAttempts int

	// RetryBaseDelay is the backoff after the first failure
	// (default 250ms).
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the computed backoff (default 8s).
	RetryMaxDelay time.Duration

	// Experiment carries experiment context (id, name, variant,
	// group) into baggage and event metadata. Merged with any
	// HH_EXPERIMENT_* variables; explicit keys win.
	Experiment map[string]string

	// HTTPClient overrides the transport used for the session and
	// event APIs, mainly for tests.
	HTTPClient *http.Client

	// LogOutput redirects SDK logs (default os.Stderr).
	LogOutput io.Writer
}

// resolve applies environment fallbacks and defaults, then validates.
// The returned Config is always usable; the error reports what keeps
// it from exporting.
func (c Config) resolve() (Config, error) {
	fillString(&c.APIKey, EnvAPIKey)
	fillString(&c.Project, EnvProject)
	fillString(&c.Source, EnvSource)
	fillString(&c.ServerURL, EnvServerURL)
	fillString(&c.SessionID, EnvSessionID)
	fillString(&c.BundlePath, EnvBundlePath)

	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.SessionName == "" {
		c.SessionName = filepath.Base(os.Args[0])
	}

	c.Verbose = c.Verbose || envBool(EnvVerbose)
	c.DisableTracing = c.DisableTracing || envBool(EnvDisableTracing)
	c.DisableHTTPTracing = c.DisableHTTPTracing || envBool(EnvDisableHTTPTracing)
	if c.OTLPEnabled == nil {
		if raw, ok := os.LookupEnv(EnvOTLPEnabled); ok {
			if v, err := strconv.ParseBool(raw); err == nil {
				c.OTLPEnabled = &v
			}
		}
	}
	c.Experiment = mergeExperiment(c.Experiment)

	var errs []error
	if c.APIKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.Project == "" {
		errs = append(errs, ErrMissingProject)
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Host == "" || u.Scheme == "" {
		errs = append(errs, ErrInvalidServerURL)
	}
	return c, errors.Join(errs...)
}

// otlpEnabled reads the tri-state OTLP flag with its default.
func (c Config) otlpEnabled() bool {
	return boolValue(c.OTLPEnabled, true)
}

func boolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func fillString(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

func envBool(env string) bool {
	v, err := strconv.ParseBool(os.Getenv(env))
	return err == nil && v
}

// mergeExperiment overlays HH_EXPERIMENT_* variables under explicit
// keys. Variable names are lowercased past the prefix, so
// HH_EXPERIMENT_RUN_ID becomes "run_id".
func mergeExperiment(explicit map[string]string) map[string]string {
	var merged map[string]string
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		rest, ok := strings.CutPrefix(name, envExperimentPrefix)
		if !ok || rest == "" {
			continue
		}
		if merged == nil {
			merged = make(map[string]string)
		}
		merged[strings.ToLower(rest)] = value
	}
	if len(explicit) == 0 {
		return merged
	}
	if merged == nil {
		merged = make(map[string]string, len(explicit))
	}
	for key, value := range explicit {
		merged[key] = value
	}
	return merged
}
