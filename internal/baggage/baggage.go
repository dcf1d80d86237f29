// Package baggage names the W3C baggage members the SDK propagates and
// converts between them and Go contexts. The root package exposes the
// user-facing wrappers; the span processor reads the same members when
// it enriches spans, so the key set lives here where both can reach it.
package baggage

import (
	"context"
	"strings"

	otelbaggage "go.opentelemetry.io/otel/baggage"
)

// Baggage member keys. These travel with the context across goroutines
// and service boundaries and are copied onto every span at start.
const (
	KeySessionID = "honeyhive.session_id"
	KeyProject   = "honeyhive.project"
	KeySource    = "honeyhive.source"
	KeyParentID  = "honeyhive.parent_id"
	KeyTracerID  = "honeyhive.tracer_id"

	// ExperimentPrefix namespaces experiment context (run id, dataset
	// id, datapoint id) set by evaluation harnesses.
	ExperimentPrefix = "honeyhive.experiment."
)

// mirrorPrefix is the legacy association-property namespace some
// backends still read. Mirror members are written alongside the
// honeyhive ones and never read back.
const mirrorPrefix = "traceloop.association.properties."

// Values is the SDK's view of one context's baggage.
type Values struct {
	SessionID string
	Project   string
	Source    string
	ParentID  string
	TracerID  string

	// Experiment holds experiment members with ExperimentPrefix
	// stripped, nil when none are set.
	Experiment map[string]string
}

// Read collects the honeyhive members from ctx. Mirror members are
// ignored: they exist for ecosystem compatibility, not for detection
// or enrichment.
func Read(ctx context.Context) Values {
	var v Values
	for _, m := range otelbaggage.FromContext(ctx).Members() {
		switch key := m.Key(); key {
		case KeySessionID:
			v.SessionID = m.Value()
		case KeyProject:
			v.Project = m.Value()
		case KeySource:
			v.Source = m.Value()
		case KeyParentID:
			v.ParentID = m.Value()
		case KeyTracerID:
			v.TracerID = m.Value()
		default:
			if rest, ok := strings.CutPrefix(key, ExperimentPrefix); ok && rest != "" {
				if v.Experiment == nil {
					v.Experiment = make(map[string]string)
				}
				v.Experiment[rest] = m.Value()
			}
		}
	}
	return v
}

// Apply returns ctx with every non-empty field of v merged into the
// existing baggage. Session, project, source and parent id are
// duplicated under the legacy mirror prefix. Members that fail W3C
// validation are skipped rather than poisoning the rest of the set.
func Apply(ctx context.Context, v Values) context.Context {
	bag := otelbaggage.FromContext(ctx)

	set := func(key, value string) {
		if value == "" {
			return
		}
		member, err := otelbaggage.NewMemberRaw(key, value)
		if err != nil {
			return
		}
		if next, err := bag.SetMember(member); err == nil {
			bag = next
		}
	}

	set(KeySessionID, v.SessionID)
	set(mirrorPrefix+"session_id", v.SessionID)
	set(KeyProject, v.Project)
	set(mirrorPrefix+"project", v.Project)
	set(KeySource, v.Source)
	set(mirrorPrefix+"source", v.Source)
	set(KeyParentID, v.ParentID)
	set(mirrorPrefix+"parent_id", v.ParentID)
	set(KeyTracerID, v.TracerID)
	for key, value := range v.Experiment {
		set(ExperimentPrefix+key, value)
	}

	return otelbaggage.ContextWithBaggage(ctx, bag)
}
