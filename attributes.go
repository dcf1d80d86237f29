package honeyhive

import (
	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
	"github.com/honeyhiveai/honeyhive-go/internal/processor"
)

// Wire-level span attribute keys. Markers and canonical sections live
// in the underscore namespace; identity enrichment copied from baggage
// lives in the dot namespace. Complex section values are JSON-encoded
// strings because the attribute model has no nested types.
const (
	// AttrProcessed marks a span whose canonical attributes were
	// written in-process; its wire value is the string "true".
	AttrProcessed = processor.AttrProcessed

	// AttrSchemaVersion is the rule-bundle schema the canonical
	// attributes follow.
	AttrSchemaVersion = processor.AttrSchemaVersion

	// AttrEventType pins the event type to one of model, chain, tool,
	// session, overriding name-based detection.
	AttrEventType = processor.AttrEventType

	// Section prefixes for canonical event fields.
	AttrPrefixInputs         = processor.PrefixInputs
	AttrPrefixOutputs        = processor.PrefixOutputs
	AttrPrefixConfig         = processor.PrefixConfig
	AttrPrefixMetadata       = processor.PrefixMetadata
	AttrPrefixFeedback       = processor.PrefixFeedback
	AttrPrefixMetrics        = processor.PrefixMetrics
	AttrPrefixUserProperties = processor.PrefixUserProperties

	// Identity attributes, mirrored from baggage at span start.
	AttrSessionID = baggage.KeySessionID
	AttrProject   = baggage.KeyProject
	AttrSource    = baggage.KeySource
	AttrParentID  = baggage.KeyParentID
	AttrTracerID  = baggage.KeyTracerID
)
