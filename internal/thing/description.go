package thing

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/webthings/thingcheck/internal/dialect"
)

// Link is a navigation link or form. Keys vary by dialect, so the raw
// attributes are kept and read through the dialect's key table.
type Link map[string]any

// String returns the string attribute stored under key.
func (l Link) String(key string) (string, bool) {
	v, ok := l[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Href returns the link target.
func (l Link) Href() string {
	s, _ := l.String("href")
	return s
}

// TypeTags is a set of semantic type tags. The wire form is a string or an array.
type TypeTags []string

// UnmarshalJSON accepts both "Light" and ["OnOffSwitch", "Light"].
func (t *TypeTags) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeTags{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("@type must be a string or array of strings: %w", err)
	}
	*t = many
	return nil
}

// DataSchema is the JSON-schema-like value contract shared by properties,
// action inputs and event payloads.
type DataSchema struct {
	Type        string                `json:"type,omitempty"`
	Title       string                `json:"title,omitempty"`
	Description string                `json:"description,omitempty"`
	Unit        string                `json:"unit,omitempty"`
	Minimum     *float64              `json:"minimum,omitempty"`
	Maximum     *float64              `json:"maximum,omitempty"`
	Properties  map[string]DataSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
}

// linked holds both dialects' link arrays; only one is populated on the wire.
type linked struct {
	Links []Link `json:"links,omitempty"`
	Forms []Link `json:"forms,omitempty"`
}

// NavLinks returns the navigation links under the dialect's key.
func (l linked) NavLinks(d *dialect.Dialect) []Link {
	if d.Key(dialect.FieldLinks) == "forms" {
		return l.Forms
	}
	return l.Links
}

// PropertyDescriptor describes a readable/writable attribute.
type PropertyDescriptor struct {
	SemanticType string `json:"@type,omitempty"`
	DataSchema
	ReadOnly bool `json:"readOnly,omitempty"`
	linked
}

// ActionDescriptor describes an invocable operation.
type ActionDescriptor struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Input       *DataSchema `json:"input,omitempty"`
	linked
}

// EventDescriptor describes a device-emitted occurrence.
type EventDescriptor struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Data        *DataSchema `json:"data,omitempty"`

	// The links dialect historically declared type/unit at the top level.
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
	linked
}

// PayloadType returns the declared payload value type.
func (e *EventDescriptor) PayloadType() string {
	if e.Data != nil && e.Data.Type != "" {
		return e.Data.Type
	}
	return e.Type
}

// PayloadUnit returns the declared payload unit.
func (e *EventDescriptor) PayloadUnit() string {
	if e.Data != nil && e.Data.Unit != "" {
		return e.Data.Unit
	}
	return e.Unit
}

// SecurityScheme is one entry of securityDefinitions.
type SecurityScheme struct {
	Scheme string `json:"scheme"`
}

// Description is a thing's self-description document. It is immutable once
// fetched and re-fetched only at scenario start.
type Description struct {
	Context             any                           `json:"@context,omitempty"`
	Types               TypeTags                      `json:"@type,omitempty"`
	ID                  string                        `json:"id"`
	Title               string                        `json:"title"`
	Description         string                        `json:"description,omitempty"`
	Base                string                        `json:"base,omitempty"`
	Security            any                           `json:"security,omitempty"`
	SecurityDefinitions map[string]SecurityScheme     `json:"securityDefinitions,omitempty"`
	Properties          map[string]PropertyDescriptor `json:"properties,omitempty"`
	Actions             map[string]ActionDescriptor   `json:"actions,omitempty"`
	Events              map[string]EventDescriptor    `json:"events,omitempty"`
	linked
}

// ParseDescription decodes a description document.
func ParseDescription(raw []byte) (*Description, error) {
	var td Description
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, fmt.Errorf("failed to parse thing description: %w", err)
	}
	return &td, nil
}

// SecurityName returns the single security scheme name, whether the wire
// form is a string or a one-element array.
func (td *Description) SecurityName() string {
	switch s := td.Security.(type) {
	case string:
		return s
	case []any:
		if len(s) == 1 {
			name, _ := s[0].(string)
			return name
		}
	}
	return ""
}

// PropertyNames returns property names in sorted order.
func (td *Description) PropertyNames() []string {
	return sortedNames(td.Properties)
}

// ActionNames returns action names in sorted order.
func (td *Description) ActionNames() []string {
	return sortedNames(td.Actions)
}

// EventNames returns event names in sorted order.
func (td *Description) EventNames() []string {
	return sortedNames(td.Events)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
