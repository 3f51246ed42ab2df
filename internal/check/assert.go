package check

import (
	"fmt"
	"reflect"
	"sort"
)

// Equal asserts that a decoded JSON value equals the expected value.
// Numbers are compared by value regardless of their Go type.
func Equal(field string, expected, actual any) error {
	if reflect.DeepEqual(Normalize(expected), Normalize(actual)) {
		return nil
	}
	return Mismatch(field, expected, actual)
}

// SetEqual asserts that two string collections hold the same members,
// ignoring order and duplicates.
func SetEqual(field string, expected, actual []string) error {
	want := toSet(expected)
	got := toSet(actual)
	if reflect.DeepEqual(want, got) {
		return nil
	}
	return Mismatch(field, sortedKeys(want), sortedKeys(got))
}

// True asserts a condition, failing with a schema mismatch on the field.
func True(field string, cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return Schemaf(field, format, args...)
}

// Status asserts a response status.
func Status(method, path string, expected, actual int) error {
	if expected == actual {
		return nil
	}
	return UnexpectedStatus(method, path, expected, actual)
}

// ClientError asserts a 4xx response status.
func ClientError(method, path string, actual int) error {
	if actual >= 400 && actual < 500 {
		return nil
	}
	return Transportf(method, path, actual, "expected a client error status (4xx)")
}

// NoBody asserts that a response carried no content.
func NoBody(method, path string, status int, body any) error {
	if body == nil {
		return nil
	}
	return Transportf(method, path, status, "expected an empty body, got %s", Render(body))
}

// Number extracts a numeric value from a decoded JSON value.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint8:
		return float64(n), true
	default:
		return 0, false
	}
}

// Normalize converts a value into the shapes encoding/json produces when
// decoding into any, so fixtures written with Go literals compare equal to
// wire documents.
func Normalize(v any) any {
	if n, ok := Number(v); ok {
		return n
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]int:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = float64(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	return v
}

// Object asserts that a decoded value is a JSON object.
func Object(field string, v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, Schemaf(field, "expected an object, got %s", Render(v))
	}
	return obj, nil
}

// Array asserts that a decoded value is a JSON array.
func Array(field string, v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, Schemaf(field, "expected an array, got %s", Render(v))
	}
	return arr, nil
}

// Len asserts the length of a decoded array or object.
func Len(field string, expected int, v any) error {
	var n int
	switch t := v.(type) {
	case []any:
		n = len(t)
	case map[string]any:
		n = len(t)
	case nil:
		n = 0
	default:
		return Schemaf(field, "expected a collection, got %s", Render(v))
	}
	if n != expected {
		return &Failure{
			Kind:     KindSchema,
			Field:    field,
			Message:  "unexpected length",
			Expected: expected,
			Actual:   n,
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path joins field path components.
func Path(parts ...any) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "."
		}
		s += fmt.Sprint(p)
	}
	return s
}
