package honeyhive

// Version is the SDK release version. It is reported as the
// instrumentation scope version on every span and in the service
// resource attributes.
const Version = "0.1.0"
