package check

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind represents the category of a conformance failure
type Kind int

const (
	// KindSchema indicates a described field's shape or value disagrees with the fixture
	KindSchema Kind = iota
	// KindTransport indicates an unexpected status or a failed request
	KindTransport
	// KindTimeout indicates a poll or duplex receive exceeded its bound
	KindTimeout
	// KindTimestamp indicates a timestamp that does not match the date-time grammar
	KindTimestamp
)

// String returns a human-readable name for the failure kind
func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "Schema Mismatch"
	case KindTransport:
		return "Transport Failure"
	case KindTimeout:
		return "Timeout"
	case KindTimestamp:
		return "Malformed Timestamp"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Failure is a labeled assertion failure. Every failure is fatal to the scenario.
type Failure struct {
	Kind     Kind          // Category of failure
	Field    string        // Field path (schema, timestamp)
	Expected any           // Expected value (schema)
	Actual   any           // Actual value (schema, timestamp)
	Method   string        // Request method (transport)
	Path     string        // Request path (transport)
	Status   int           // Response status (transport)
	Waited   time.Duration // Bound that was exceeded (timeout)
	Message  string        // Human-readable detail
	Err      error         // Underlying error (if any)
}

// Error implements the error interface
func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	b.WriteString(": ")

	switch f.Kind {
	case KindSchema:
		b.WriteString(f.Field)
		if f.Message != "" {
			b.WriteString(": ")
			b.WriteString(f.Message)
		}
		if f.Expected != nil || f.Actual != nil {
			fmt.Fprintf(&b, " (expected %s, got %s)", Render(f.Expected), Render(f.Actual))
		}
	case KindTransport:
		fmt.Fprintf(&b, "%s %s", f.Method, f.Path)
		if f.Status != 0 {
			fmt.Fprintf(&b, " returned %d", f.Status)
		}
		if f.Message != "" {
			b.WriteString(": ")
			b.WriteString(f.Message)
		}
	case KindTimeout:
		b.WriteString(f.Message)
		if f.Waited > 0 {
			fmt.Fprintf(&b, " (hung for %s)", f.Waited)
		}
	case KindTimestamp:
		fmt.Fprintf(&b, "%s = %q", f.Field, Render(f.Actual))
		if f.Message != "" {
			b.WriteString(": ")
			b.WriteString(f.Message)
		}
	default:
		b.WriteString(f.Message)
	}

	if f.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", f.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (f *Failure) Unwrap() error {
	return f.Err
}

// Mismatch creates a schema failure for a field whose value differs from the expectation
func Mismatch(field string, expected, actual any) *Failure {
	return &Failure{
		Kind:     KindSchema,
		Field:    field,
		Expected: expected,
		Actual:   actual,
	}
}

// Schemaf creates a schema failure with a formatted message and no expected/actual pair
func Schemaf(field, format string, args ...any) *Failure {
	return &Failure{
		Kind:    KindSchema,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// UnexpectedStatus creates a transport failure for a response with the wrong status
func UnexpectedStatus(method, path string, expected, actual int) *Failure {
	return &Failure{
		Kind:    KindTransport,
		Method:  method,
		Path:    path,
		Status:  actual,
		Message: fmt.Sprintf("expected status %d", expected),
	}
}

// Transport creates a transport failure caused by a request error
func Transport(method, path string, err error) *Failure {
	return &Failure{
		Kind:    KindTransport,
		Method:  method,
		Path:    path,
		Message: "request failed",
		Err:     err,
	}
}

// Transportf creates a transport failure with a formatted message
func Transportf(method, path string, status int, format string, args ...any) *Failure {
	return &Failure{
		Kind:    KindTransport,
		Method:  method,
		Path:    path,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}

// Timeout creates a timeout failure for a wait that exceeded its bound
func Timeout(what string, waited time.Duration) *Failure {
	return &Failure{
		Kind:    KindTimeout,
		Message: what,
		Waited:  waited,
	}
}

// BadTimestamp creates a timestamp failure
func BadTimestamp(field string, value any, reason string) *Failure {
	return &Failure{
		Kind:    KindTimestamp,
		Field:   field,
		Actual:  value,
		Message: reason,
	}
}

func is(err error, kind Kind) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// IsSchema checks if an error is a schema mismatch
func IsSchema(err error) bool { return is(err, KindSchema) }

// IsTransport checks if an error is a transport failure
func IsTransport(err error) bool { return is(err, KindTransport) }

// IsTimeout checks if an error is a timing-out wait
func IsTimeout(err error) bool { return is(err, KindTimeout) }

// IsTimestamp checks if an error is a malformed timestamp
func IsTimestamp(err error) bool { return is(err, KindTimestamp) }

// Render formats a value the way it appears on the wire
func Render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Within prefixes a failure's field path, so nested validators can report
// their findings relative to the document root.
func Within(prefix string, err error) error {
	var f *Failure
	if !errors.As(err, &f) {
		return err
	}
	if f.Field == "" {
		f.Field = prefix
	} else if prefix != "" {
		f.Field = prefix + "." + f.Field
	}
	return f
}
