package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Equal reports whether actual and expected are structurally equal. Both
// sides are normalised through JSON first, so a Go int and a JavaScript
// number compare equal and object key order is irrelevant.
func Equal(actual, expected any) bool {
	a, err := normalize(actual)
	if err != nil {
		return false
	}
	e, err := normalize(expected)
	if err != nil {
		return false
	}
	return cmp.Equal(a, e)
}

// normalize converts v into the shapes encoding/json produces when decoding
// into an interface: float64, string, bool, nil, []any and map[string]any.
func normalize(v any) (any, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return decodeValue(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return decodeValue(data)
}

// encodeValue returns the JSON text handed to the sandbox for v.
func encodeValue(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok && len(raw) > 0 {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding test input: %w", err)
	}
	return data, nil
}

func decodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return out, nil
}
