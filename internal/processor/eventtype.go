package processor

import (
	"strings"

	"github.com/honeyhiveai/honeyhive-go/pkg/models"
)

// modelIndicators are attribute-key prefixes whose presence marks a
// span as an LLM inference call regardless of its name.
var modelIndicators = [...]string{
	"gen_ai.request.",
	"llm.model_name",
	"openlit.model",
	"openlit.request.model",
}

// Span-name keywords, checked in order: composite markers first so a
// name like "tool_chain" classifies as the outer structure.
var (
	chainKeywords   = [...]string{"chain", "workflow", "pipeline"}
	toolKeywords    = [...]string{"tool", "function", "api", "search"}
	sessionKeywords = [...]string{"session"}
)

// EventTypeOf classifies a span. Precedence: an explicit
// honeyhive_event_type attribute carrying a canonical type, then
// model-indicative attribute keys, then case-insensitive keyword scans
// over the span name, then tool as the default. No regex anywhere;
// this runs for every span.
func EventTypeOf(name string, attrs map[string]any) models.EventType {
	if v, ok := attrs[AttrEventType].(string); ok {
		if t := models.EventType(v); t.Valid() {
			return t
		}
	}

	for key := range attrs {
		for _, indicator := range modelIndicators {
			if strings.HasPrefix(key, indicator) {
				return models.EventTypeModel
			}
		}
	}

	lower := strings.ToLower(name)
	for _, kw := range chainKeywords {
		if strings.Contains(lower, kw) {
			return models.EventTypeChain
		}
	}
	for _, kw := range toolKeywords {
		if strings.Contains(lower, kw) {
			return models.EventTypeTool
		}
	}
	for _, kw := range sessionKeywords {
		if strings.Contains(lower, kw) {
			return models.EventTypeSession
		}
	}

	return models.EventTypeTool
}
