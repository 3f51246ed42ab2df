package thing

import (
	"encoding/json"
	"fmt"
)

// EventOccurrence is one entry of a thing's append-only event log.
type EventOccurrence struct {
	Name      string `json:"-"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// DecodeEventOccurrence converts the {data, timestamp} object of a named event.
func DecodeEventOccurrence(name string, v any) (*EventOccurrence, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var occ EventOccurrence
	if err := json.Unmarshal(data, &occ); err != nil {
		return nil, fmt.Errorf("event %q is not an object: %w", name, err)
	}
	occ.Name = name
	return &occ, nil
}

// ConformsTo reports whether a decoded JSON value has the declared value type.
func ConformsTo(valueType string, v any) bool {
	switch valueType {
	case "":
		return true
	case "null":
		return v == nil
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}
