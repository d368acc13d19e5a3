package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// value keeps the Go type of a field across the JSON round trip.
type value struct {
	T string  `json:"t"`
	S string  `json:"s,omitempty"`
	I int64   `json:"i,omitempty"`
	F float64 `json:"f,omitempty"`
	B bool    `json:"b,omitempty"`
}

func encodeFields(fields docstore.Fields) (string, error) {
	out := make(map[string]value, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case nil:
			out[k] = value{T: "n"}
		case string:
			out[k] = value{T: "s", S: x}
		case int64:
			out[k] = value{T: "i", I: x}
		case float64:
			out[k] = value{T: "f", F: x}
		case bool:
			out[k] = value{T: "b", B: x}
		case time.Time:
			out[k] = value{T: "t", S: x.UTC().Format(time.RFC3339Nano)}
		default:
			return "", fmt.Errorf("field %q: %w: %T", k, docstore.ErrUnsupportedValue, v)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(raw string) (docstore.Fields, error) {
	var in map[string]value
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}

	fields := make(docstore.Fields, len(in))
	for k, v := range in {
		switch v.T {
		case "n":
			fields[k] = nil
		case "s":
			fields[k] = v.S
		case "i":
			fields[k] = v.I
		case "f":
			fields[k] = v.F
		case "b":
			fields[k] = v.B
		case "t":
			t, err := time.Parse(time.RFC3339Nano, v.S)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = t
		default:
			return nil, fmt.Errorf("field %q: unknown type tag %q", k, v.T)
		}
	}
	return fields, nil
}
