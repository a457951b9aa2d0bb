package jobs

import (
	"encoding/json"
	"io"
)

// DecodePayload reads one JSON object, keeping integers exact.
func DecodePayload(r io.Reader) (Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var data Payload
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return NormalizeNumbers(data), nil
}

// NormalizeNumbers turns json.Number values into int64 or float64 so payloads are
// stored with native number types.
func NormalizeNumbers(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return NormalizeNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}
