package honeyhive

import (
	"context"

	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
)

// WithSession returns a context whose spans land in the given session.
// The id travels as W3C baggage, so it survives goroutine handoff and
// outbound HTTP made with an instrumented client.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return baggage.Apply(ctx, baggage.Values{SessionID: sessionID})
}

// WithParentID returns a context whose next span reports the given
// event id as its parent, stitching spans under an event created
// elsewhere (another process, or an event posted directly to the API).
func WithParentID(ctx context.Context, parentID string) context.Context {
	return baggage.Apply(ctx, baggage.Values{ParentID: parentID})
}

// WithExperiment returns a context carrying experiment properties
// (run id, dataset id, variant, ...). They surface as
// "experiment.<key>" entries in every event's metadata.
func WithExperiment(ctx context.Context, properties map[string]string) context.Context {
	if len(properties) == 0 {
		return ctx
	}
	return baggage.Apply(ctx, baggage.Values{Experiment: properties})
}

// SessionFromContext reports the session id carried by ctx, or "".
func SessionFromContext(ctx context.Context) string {
	return baggage.Read(ctx).SessionID
}

// ParentIDFromContext reports the parent event id carried by ctx,
// or "".
func ParentIDFromContext(ctx context.Context) string {
	return baggage.Read(ctx).ParentID
}
