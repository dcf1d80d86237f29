// Package models provides the canonical event types for the HoneyHive
// tracing SDK. Every span captured by the SDK, whatever instrumentor
// produced it, normalizes into a single Event shape before export.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies what a captured span represents.
type EventType string

const (
	// EventTypeModel is an LLM inference call.
	EventTypeModel EventType = "model"

	// EventTypeChain is a composite step grouping other events.
	EventTypeChain EventType = "chain"

	// EventTypeTool is a tool or function execution.
	EventTypeTool EventType = "tool"

	// EventTypeSession is the root event of a trace session.
	EventTypeSession EventType = "session"
)

// Valid reports whether t is one of the canonical event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeModel, EventTypeChain, EventTypeTool, EventTypeSession:
		return true
	}
	return false
}

// Event is the canonical telemetry record. Vendor-specific span
// attributes (traceloop gen_ai.*, openinference llm.*, openlit
// openlit.*) are normalized into the four section maps; the rest of
// the fields carry identity and timing.
//
// Section maps marshal as {} rather than null so the ingest API can
// treat them as always-present objects.
type Event struct {
	// EventID is a UUIDv4. For span-derived events it is computed
	// deterministically from the span identity (see DeriveEventID) so
	// parent/child linkage needs no coordination between exporters.
	EventID string `json:"event_id"`

	// SessionID is shared by every event in one trace session.
	SessionID string `json:"session_id"`

	// ParentID is the event_id of the parent event, empty at the root.
	ParentID string `json:"parent_id,omitempty"`

	// EventType is one of model, chain, tool, session.
	EventType EventType `json:"event_type"`

	// EventName is the span or operation name.
	EventName string `json:"event_name"`

	// Source is the deployment environment (production, dev, ...).
	Source string `json:"source,omitempty"`

	// Project is the HoneyHive project the event belongs to.
	Project string `json:"project_id,omitempty"`

	// TracerID identifies the tracer instance that produced the event.
	// Internal routing only; never serialized.
	TracerID string `json:"-"`

	// StartTime and EndTime are unix milliseconds.
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`

	// Duration is EndTime-StartTime in fractional milliseconds.
	Duration float64 `json:"duration"`

	// Inputs holds chat_history, prompt, functions, or _params_ for
	// manually traced calls.
	Inputs map[string]any `json:"inputs"`

	// Outputs holds content, role, finish_reason, tool_calls, or the
	// result of manually traced calls.
	Outputs map[string]any `json:"outputs"`

	// Config holds model, provider, temperature and other request
	// parameters.
	Config map[string]any `json:"config"`

	// Metadata holds token counts, cost, scope and experiment context.
	Metadata map[string]any `json:"metadata"`

	Feedback       map[string]any `json:"feedback,omitempty"`
	Metrics        map[string]any `json:"metrics,omitempty"`
	UserProperties map[string]any `json:"user_properties,omitempty"`

	// Error carries the span status description when the span ended in
	// error, nil otherwise.
	Error *string `json:"error,omitempty"`

	// Children is populated server-side; the SDK leaves it nil.
	Children []string `json:"children_ids,omitempty"`
}

// NewEvent returns an Event with a fresh random event_id, the given
// type and name, and initialized section maps.
func NewEvent(eventType EventType, name string) *Event {
	return &Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		EventName: name,
		Inputs:    map[string]any{},
		Outputs:   map[string]any{},
		Config:    map[string]any{},
		Metadata:  map[string]any{},
	}
}

// SetTimes fills StartTime, EndTime and Duration from span times.
func (e *Event) SetTimes(start, end time.Time) {
	e.StartTime = start.UnixMilli()
	e.EndTime = end.UnixMilli()
	e.Duration = float64(end.Sub(start).Microseconds()) / 1000.0
}

// SetError records the span status description.
func (e *Event) SetError(msg string) {
	e.Error = &msg
}

// Validate checks the invariants the ingest API enforces: a parseable
// event_id and session_id, and a canonical event_type.
func (e *Event) Validate() error {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("models: event_id %q is not a UUID: %w", e.EventID, err)
	}
	if _, err := uuid.Parse(e.SessionID); err != nil {
		return fmt.Errorf("models: session_id %q is not a UUID: %w", e.SessionID, err)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("models: invalid event_type %q", e.EventType)
	}
	return nil
}

// MarshalJSON emits the section maps as {} when nil.
func (e *Event) MarshalJSON() ([]byte, error) {
	type alias Event
	a := alias(*e)
	if a.Inputs == nil {
		a.Inputs = map[string]any{}
	}
	if a.Outputs == nil {
		a.Outputs = map[string]any{}
	}
	if a.Config == nil {
		a.Config = map[string]any{}
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	return json.Marshal(a)
}

// DeriveEventID builds a deterministic UUIDv4-shaped event id from a
// span identity: span id in the first 8 bytes, the low half of the
// trace id in the last 8, with RFC 4122 version and variant bits
// forced. Two exporters that see the same span always derive the same
// id, so parent linkage works without shared state.
func DeriveEventID(traceID [16]byte, spanID [8]byte) string {
	var b uuid.UUID
	copy(b[0:8], spanID[:])
	copy(b[8:16], traceID[8:16])
	return setUUIDBits(b).String()
}

// DeriveSessionID builds a deterministic UUIDv4-shaped session id from
// a trace id, used when no explicit session was started.
func DeriveSessionID(traceID [16]byte) string {
	return setUUIDBits(uuid.UUID(traceID)).String()
}

func setUUIDBits(b uuid.UUID) uuid.UUID {
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // RFC 4122 variant
	return b
}
