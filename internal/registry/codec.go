package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Payload values JSON cannot represent natively are stored as tagged objects:
//
//	{"__type": "Date",    "value": "2026-03-01T12:00:00Z"}
//	{"__type": "Buffer",  "value": "aGk="}
//	{"__type": "Decimal", "value": "12.5"}
const (
	tagKey   = "__type"
	valueKey = "value"

	TagDate    = "Date"
	TagBuffer  = "Buffer"
	TagDecimal = "Decimal"
)

// Encode replaces non-JSON-native values with tagged objects, recursing into
// maps and slices. The input is not modified.
func Encode(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return tagged(TagDate, val.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if val == nil {
			return nil
		}
		return tagged(TagDate, val.UTC().Format(time.RFC3339Nano))
	case []byte:
		return tagged(TagBuffer, base64.StdEncoding.EncodeToString(val))
	case decimal.Decimal:
		return tagged(TagDecimal, val.String())
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = Encode(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Encode(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Encode(item)
		}
		return out
	default:
		return encodeReflect(v)
	}
}

// encodeReflect walks typed slices and string-keyed maps such as []time.Time
// or map[string][]byte so nested values still get tagged.
func encodeReflect(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		fallthrough
	case reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = Encode(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Encode(iter.Value().Interface())
		}
		return out
	default:
		return v
	}
}

func tagged(tag, value string) map[string]interface{} {
	return map[string]interface{}{tagKey: tag, valueKey: value}
}

// Decode reverses Encode. Objects that look tagged but carry an unknown tag
// are kept as plain maps.
func Decode(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if tag, raw, ok := asTagged(val); ok {
			switch tag {
			case TagDate:
				t, err := time.Parse(time.RFC3339Nano, raw)
				if err != nil {
					return nil, fmt.Errorf("decode %s tag: %w", TagDate, err)
				}
				return t.UTC(), nil
			case TagBuffer:
				b, err := base64.StdEncoding.DecodeString(raw)
				if err != nil {
					return nil, fmt.Errorf("decode %s tag: %w", TagBuffer, err)
				}
				return b, nil
			case TagDecimal:
				d, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, fmt.Errorf("decode %s tag: %w", TagDecimal, err)
				}
				return d, nil
			}
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			decoded, err := Decode(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = decoded
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			decoded, err := Decode(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return v, nil
	}
}

// asTagged recognizes exactly {"__type": string, "value": string}.
func asTagged(m map[string]interface{}) (string, string, bool) {
	if len(m) != 2 {
		return "", "", false
	}
	tag, ok := m[tagKey].(string)
	if !ok {
		return "", "", false
	}
	raw, ok := m[valueKey].(string)
	if !ok {
		return "", "", false
	}
	return tag, raw, true
}

// EncodeData encodes a payload map.
func EncodeData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	return Encode(data).(map[string]interface{})
}

// DecodeData decodes a payload map.
func DecodeData(data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		return nil, nil
	}
	decoded, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return decoded.(map[string]interface{}), nil
}

// Marshal encodes a payload to tagged JSON. A nil payload becomes "{}".
func Marshal(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(EncodeData(data))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// Unmarshal parses tagged JSON into a payload with native values restored.
func Unmarshal(b []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	data, err := DecodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}
