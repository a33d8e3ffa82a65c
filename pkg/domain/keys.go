package domain

import (
	"encoding/json"
	"fmt"
)

// EncodeKey canonicalises composite key values as a JSON array so that
// numerically equal values (int 50, float 50.0) produce the same key.
func EncodeKey(values ...any) (string, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	var normalised []any
	if err := json.Unmarshal(raw, &normalised); err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	for i, v := range normalised {
		switch v.(type) {
		case string, float64:
		default:
			return "", fmt.Errorf("encode key: segment %d has unsupported type %T", i, values[i])
		}
	}
	out, err := json.Marshal(normalised)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return string(out), nil
}

// ExtractKey reads the key path fields out of a JSON object payload and encodes them.
func ExtractKey(payload []byte, keyPath []string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("record must be a JSON object: %w", err)
	}
	values := make([]any, 0, len(keyPath))
	for _, name := range keyPath {
		raw, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("record missing key field %q", name)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", fmt.Errorf("key field %q: %w", name, err)
		}
		values = append(values, v)
	}
	return EncodeKey(values...)
}
