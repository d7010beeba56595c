package expr

import (
	"encoding/json"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
)

// DecodeAttribute turns the raw bytes the host returned for path into a
// Value. Paths in the well-known table decode directly at their registered
// type; everything else is decoded as a string and then, on a best-effort
// basis, re-parsed as JSON, mirroring the original json_to_cel fallback: a
// valid JSON document becomes its natural CEL shape (object, array, number,
// bool, null, string), anything else stays a raw CEL string.
func DecodeAttribute(path string, raw []byte) (Value, error) {
	if kind, ok := KindFor(path); ok {
		return decodeKnown(kind, raw)
	}
	s, err := attr.ParseString(raw)
	if err != nil {
		return Bytes(raw), nil
	}
	return jsonToValue(s), nil
}

func decodeKnown(kind AttrKind, raw []byte) (Value, error) {
	switch kind {
	case AttrString:
		s, err := attr.ParseString(raw)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case AttrInt:
		v, err := attr.ParseInt64(raw)
		if err != nil {
			return Value{}, err
		}
		return Int(v), nil
	case AttrUint:
		v, err := attr.ParseUint64(raw)
		if err != nil {
			return Value{}, err
		}
		return Uint(v), nil
	case AttrFloat:
		v, err := attr.ParseFloat64(raw)
		if err != nil {
			return Value{}, err
		}
		return Float(v), nil
	case AttrBool:
		v, err := attr.ParseBool(raw)
		if err != nil {
			return Value{}, err
		}
		return Bool(v), nil
	case AttrBytes:
		return Bytes(raw), nil
	case AttrTimestamp:
		v, err := attr.ParseTimestamp(raw)
		if err != nil {
			return Value{}, err
		}
		return Timestamp(v), nil
	case AttrMap:
		// Maps (request.headers, filter_state, *.labels, context_extensions)
		// arrive pre-serialized as JSON from the host adapter rather than
		// Envoy's native protobuf map wire form, since our Resolver exposes
		// a single byte-slice-in, byte-slice-out contract.
		s, err := attr.ParseString(raw)
		if err != nil {
			return Value{}, err
		}
		v := jsonToValue(s)
		if v.Kind() != KindMap {
			return Map(map[string]Value{}), nil
		}
		return v, nil
	default:
		return Bytes(raw), nil
	}
}

// jsonToValue parses s as JSON, converting it into the corresponding Value
// shape; if s is not valid JSON, it is kept as a raw CEL string.
func jsonToValue(s string) Value {
	var anyVal any
	if err := json.Unmarshal([]byte(s), &anyVal); err != nil {
		return String(s)
	}
	return FromJSON(anyVal)
}

// FromJSON converts a decoded encoding/json value (nil, bool, float64,
// string, []any, or map[string]any) into the corresponding Value shape.
func FromJSON(v any) Value {
	switch vv := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(vv)
	case float64:
		return Float(vv)
	case string:
		return String(vv)
	case []any:
		items := make([]Value, len(vv))
		for i, e := range vv {
			items[i] = FromJSON(e)
		}
		return List(items)
	case map[string]any:
		m := make(map[string]Value, len(vv))
		for k, e := range vv {
			m[k] = FromJSON(e)
		}
		return Map(m)
	default:
		return Null()
	}
}
