// Package dialect maps the two Web Thing schema dialects onto one canonical vocabulary.
//
// A Dialect is resolved once from configuration. Every validator asks it for
// field keys and value shapes instead of branching on the dialect name.
package dialect

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Name identifies a supported dialect.
type Name string

const (
	// Webthings is the links-based dialect with explicit rel tags.
	Webthings Name = "Webthings"

	// WoT is the forms-based dialect.
	WoT Name = "WoT"
)

// Field is a canonical field name.
type Field int

const (
	// FieldLinks is the key holding navigation links on a description or descriptor.
	FieldLinks Field = iota
	// FieldMediaType is the key holding a link's media type.
	FieldMediaType
	// FieldRel is the key holding a link's relation.
	FieldRel
	// FieldHref is the key holding a link's target.
	FieldHref
	// FieldMessageType is the duplex envelope discriminator.
	FieldMessageType
	// FieldMessageData is the duplex envelope payload.
	FieldMessageData
)

// String returns the canonical field name.
func (f Field) String() string {
	switch f {
	case FieldLinks:
		return "links"
	case FieldMediaType:
		return "mediaType"
	case FieldRel:
		return "rel"
	case FieldHref:
		return "href"
	case FieldMessageType:
		return "messageType"
	case FieldMessageData:
		return "data"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// Dialect is a resolved translation table.
type Dialect struct {
	name Name
	keys map[Field]string

	// wrapsPropertyValue is true when single-property documents are {name: value}.
	wrapsPropertyValue bool

	// relTagged is true when root links declare their relation explicitly.
	relTagged bool
}

var tables = map[Name]*Dialect{
	Webthings: {
		name: Webthings,
		keys: map[Field]string{
			FieldLinks:       "links",
			FieldMediaType:   "mediaType",
			FieldRel:         "rel",
			FieldHref:        "href",
			FieldMessageType: "messageType",
			FieldMessageData: "data",
		},
		wrapsPropertyValue: true,
		relTagged:          true,
	},
	WoT: {
		name: WoT,
		keys: map[Field]string{
			FieldLinks:       "forms",
			FieldMediaType:   "type",
			FieldRel:         "rel",
			FieldHref:        "href",
			FieldMessageType: "messageType",
			FieldMessageData: "data",
		},
		wrapsPropertyValue: false,
		relTagged:          false,
	},
}

// Parse resolves a dialect by name. Matching is case-insensitive.
// An unknown name is a configuration error and must be reported before any
// scenario step runs.
func Parse(name string) (*Dialect, error) {
	for n, d := range tables {
		if strings.EqualFold(string(n), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown dialect %q (supported: %s, %s)", name, Webthings, WoT)
}

// MustParse is like Parse but panics on an unknown name.
func MustParse(name string) *Dialect {
	d, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names lists the supported dialect names.
func Names() []string {
	return []string{string(Webthings), string(WoT)}
}

// Name returns the dialect name.
func (d *Dialect) Name() Name {
	return d.name
}

// Key returns the dialect-specific key for a canonical field.
func (d *Dialect) Key(f Field) string {
	return d.keys[f]
}

// RelTagged reports whether root links carry an explicit rel, so the
// properties collection link can be recognised by rel == "properties".
func (d *Dialect) RelTagged() bool {
	return d.relTagged
}

// EncodePropertyValue returns the request body for writing a single property.
func (d *Dialect) EncodePropertyValue(name string, value any) any {
	if d.wrapsPropertyValue {
		return map[string]any{name: value}
	}
	return value
}

// DecodePropertyValue extracts a property value from a single-property
// response body.
func (d *Dialect) DecodePropertyValue(name string, body any) (any, error) {
	if !d.wrapsPropertyValue {
		return body, nil
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s dialect expects {%q: value}, got %s", d.name, name, describe(body))
	}
	value, ok := obj[name]
	if !ok {
		return nil, fmt.Errorf("%s dialect expects key %q in property document", d.name, name)
	}
	return value, nil
}

func describe(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return string(data)
}
