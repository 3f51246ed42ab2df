package thing

import (
	"fmt"
	"regexp"
	"time"

	"github.com/webthings/thingcheck/internal/check"
)

// timestampPattern is the strict extended ISO-8601 date-time grammar: a
// four-digit year, an optional fraction of up to nine digits and an explicit
// zone offset or Z.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{1,9})?([+-]\d{2}:\d{2}|Z)$`)

// ValidTimestamp reports whether s matches the date-time grammar.
func ValidTimestamp(s string) bool {
	return timestampPattern.MatchString(s)
}

// ParseTimestamp validates s against the grammar and parses it.
func ParseTimestamp(s string) (time.Time, error) {
	if !ValidTimestamp(s) {
		return time.Time{}, fmt.Errorf("%q does not match the date-time grammar", s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid date-time: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp renders t in the grammar with a Z or numeric offset.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

// CheckTimestamp fails with a malformed-timestamp failure unless s is a
// well-formed date-time.
func CheckTimestamp(field, s string) error {
	if s == "" {
		return check.BadTimestamp(field, s, "missing")
	}
	if _, err := ParseTimestamp(s); err != nil {
		return check.BadTimestamp(field, s, "expected an ISO-8601 date-time with a four-digit year and explicit zone")
	}
	return nil
}

// CheckOrder fails unless the earlier timestamp does not follow the later one.
// Both must already be well formed.
func CheckOrder(field, earlier, later string) error {
	a, err := ParseTimestamp(earlier)
	if err != nil {
		return check.BadTimestamp(field, earlier, err.Error())
	}
	b, err := ParseTimestamp(later)
	if err != nil {
		return check.BadTimestamp(field, later, err.Error())
	}
	if a.After(b) {
		return check.Schemaf(field, "%s is after %s", earlier, later)
	}
	return nil
}
