package processor

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys owned by the SDK. The marker keys signal span
// state to downstream consumers; the section prefixes namespace the
// canonical event payload written by the pre-end hook and by manual
// span enrichment.
const (
	// AttrProcessed marks a span whose canonical attributes were
	// already written by the pre-end hook. Consumers take the fast
	// path and skip detection.
	AttrProcessed = "honeyhive_processed"

	// AttrSchemaVersion records the rule-bundle schema the canonical
	// attributes were produced under.
	AttrSchemaVersion = "honeyhive_schema_version"

	// AttrEventType overrides event-type detection when set to a
	// canonical type name.
	AttrEventType = "honeyhive_event_type"

	PrefixInputs         = "honeyhive_inputs."
	PrefixOutputs        = "honeyhive_outputs."
	PrefixConfig         = "honeyhive_config."
	PrefixMetadata       = "honeyhive_metadata."
	PrefixFeedback       = "honeyhive_feedback."
	PrefixMetrics        = "honeyhive_metrics."
	PrefixUserProperties = "honeyhive_user_properties."
)

// attrMap flattens span attributes into the map form the detector and
// extractor operate on.
func attrMap(kvs []attribute.KeyValue) map[string]any {
	attrs := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}

// isProcessed reports whether a pre-end hook already normalized this
// span. The wire form is the string "true"; bool is accepted from
// in-process writers.
func isProcessed(attrs map[string]any) bool {
	switch v := attrs[AttrProcessed].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// EncodeSection converts one canonical section into span attributes
// under the given prefix. The pre-end hook and the facade's manual
// enrichment share this encoding.
func EncodeSection(prefix string, fields map[string]any) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(fields))
	for field, value := range fields {
		kvs = append(kvs, encodeAttr(prefix+field, value))
	}
	return kvs
}

// encodeAttr converts one canonical field into a span attribute.
// Scalars keep their native attribute type; everything else is
// JSON-encoded because the wire format forbids nested values.
func encodeAttr(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return attribute.String(key, fmt.Sprintf("%v", v))
		}
		return attribute.String(key, string(data))
	}
}

// decodeValue reverses encodeAttr: strings holding JSON objects or
// arrays are decoded, everything else passes through unchanged.
func decodeValue(v any) any {
	s, ok := v.(string)
	if !ok || len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}
