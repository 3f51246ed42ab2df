package describe

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var plainKey = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// field is a located value inside the description document.
type field struct {
	path  []string
	value gjson.Result
}

func root(doc gjson.Result) field {
	return field{value: doc}
}

// at descends into an object member or array index.
func (f field) at(parts ...string) field {
	out := field{path: append(append([]string(nil), f.path...), parts...), value: f.value}
	for _, p := range parts {
		if plainKey.MatchString(p) {
			out.value = out.value.Get(p)
			continue
		}
		// Keys such as "@type" collide with gjson path syntax.
		out.value = out.value.Map()[p]
	}
	return out
}

// label is the dotted field path used in failures.
func (f field) label() string {
	return strings.Join(f.path, ".")
}

func (f field) exists() bool {
	return f.value.Exists()
}

// any returns the decoded value, or nil when the field is absent.
func (f field) any() any {
	if !f.value.Exists() {
		return nil
	}
	return f.value.Value()
}

func (f field) str() (string, bool) {
	if f.value.Type != gjson.String {
		return "", false
	}
	return f.value.Str, true
}

func (f field) array() []gjson.Result {
	if !f.value.IsArray() {
		return nil
	}
	return f.value.Array()
}
