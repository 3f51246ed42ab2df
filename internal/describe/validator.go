// Package describe validates a thing's self-description against the
// expected capability fixture.
//
// The validator is pure: it receives the raw document and performs no I/O.
// Failures name the exact field path and the expected and actual values.
package describe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/thing"
)

// Options select which parts of the description are checked.
type Options struct {
	PathPrefix        string
	Protocol          string // http or https; selects ws or wss
	SkipActionsEvents bool
	SkipDuplex        bool
}

// Summary is what later steps need from a valid description.
type Summary struct {
	Description *thing.Description

	// DuplexHref is the advertised duplex endpoint, empty when skipped.
	DuplexHref string

	// DocumentHref is the alternate text/html link, if any.
	DocumentHref string
}

// Validator checks description documents of one dialect.
type Validator struct {
	fixture   *fixture.Fixture
	dialect   *dialect.Dialect
	opts      Options
	structure *jsonschema.Schema
}

// New creates a validator.
func New(fx *fixture.Fixture, d *dialect.Dialect, opts Options) (*Validator, error) {
	structure, err := CompileStructure(d)
	if err != nil {
		return nil, err
	}
	return &Validator{fixture: fx, dialect: d, opts: opts, structure: structure}, nil
}

// Validate checks a raw description document.
func (v *Validator) Validate(raw []byte) (*Summary, error) {
	if !gjson.ValidBytes(raw) {
		return nil, check.Schemaf("", "description is not valid JSON")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, check.Schemaf("", "description is not valid JSON: %v", err)
	}
	if err := ValidateValue(v.structure, "", decoded); err != nil {
		return nil, err
	}

	td, err := thing.ParseDescription(raw)
	if err != nil {
		return nil, check.Schemaf("", "%v", err)
	}

	doc := root(gjson.ParseBytes(raw))
	if err := v.identity(doc, td); err != nil {
		return nil, err
	}
	if err := v.properties(doc); err != nil {
		return nil, err
	}
	if !v.opts.SkipActionsEvents {
		if err := v.actions(doc); err != nil {
			return nil, err
		}
		if err := v.events(doc); err != nil {
			return nil, err
		}
	}

	summary := &Summary{Description: td}
	if err := v.rootLinks(doc, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (v *Validator) identity(doc field, td *thing.Description) error {
	fx := v.fixture
	checks := []struct {
		f    field
		want any
	}{
		{doc.at("id"), fx.ID},
		{doc.at("title"), fx.Title},
		{doc.at("description"), fx.Description},
	}
	for _, c := range checks {
		if err := check.Equal(c.f.label(), c.want, c.f.any()); err != nil {
			return err
		}
	}

	if err := check.Equal("security", fx.Security, td.SecurityName()); err != nil {
		return err
	}
	scheme := doc.at("securityDefinitions", fx.Security, "scheme")
	if err := check.Equal(scheme.label(), fx.SecurityScheme, scheme.any()); err != nil {
		return err
	}
	return check.SetEqual("@type", fx.Types, td.Types)
}

// expectedField is a descriptor member and its fixture value. Empty strings
// are not checked.
type expectedField struct {
	key  string
	want any
}

func (v *Validator) properties(doc field) error {
	for _, name := range v.fixture.PropertyNames() {
		want := v.fixture.Properties[name]
		p := doc.at("properties", name)
		if !p.exists() {
			return check.Schemaf(p.label(), "property is not described")
		}

		expected := []expectedField{
			{"@type", want.SemanticType},
			{"title", want.Title},
			{"type", want.Type},
			{"description", want.Description},
			{"unit", want.Unit},
		}
		if want.Minimum != nil {
			expected = append(expected, expectedField{"minimum", *want.Minimum})
		}
		if want.Maximum != nil {
			expected = append(expected, expectedField{"maximum", *want.Maximum})
		}
		for _, e := range expected {
			if e.want == "" {
				continue
			}
			f := p.at(e.key)
			if err := check.Equal(f.label(), e.want, f.any()); err != nil {
				return err
			}
		}

		if err := v.soleLink(p, v.opts.PathPrefix+"/properties/"+name); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) actions(doc field) error {
	for _, name := range sortedKeys(v.fixture.Actions) {
		want := v.fixture.Actions[name]
		a := doc.at("actions", name)
		if !a.exists() {
			return check.Schemaf(a.label(), "action is not described")
		}
		for _, e := range []expectedField{{"title", want.Title}, {"description", want.Description}} {
			if e.want == "" {
				continue
			}
			f := a.at(e.key)
			if err := check.Equal(f.label(), e.want, f.any()); err != nil {
				return err
			}
		}

		input := a.at("input")
		if err := check.Equal(input.at("type").label(), "object", input.at("type").any()); err != nil {
			return err
		}
		for _, fieldName := range sortedKeys(want.Input) {
			wantField := want.Input[fieldName]
			in := input.at("properties", fieldName)
			if err := check.Equal(in.at("type").label(), wantField.Type, in.at("type").any()); err != nil {
				return err
			}
			if wantField.Minimum != nil {
				if err := check.Equal(in.at("minimum").label(), *wantField.Minimum, in.at("minimum").any()); err != nil {
					return err
				}
			}
			if wantField.Maximum != nil {
				if err := check.Equal(in.at("maximum").label(), *wantField.Maximum, in.at("maximum").any()); err != nil {
					return err
				}
			}
			if wantField.Unit != "" {
				if err := check.Equal(in.at("unit").label(), wantField.Unit, in.at("unit").any()); err != nil {
					return err
				}
			}
		}

		if err := v.soleLink(a, v.opts.PathPrefix+"/actions/"+name); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) events(doc field) error {
	for _, name := range sortedKeys(v.fixture.Events) {
		want := v.fixture.Events[name]
		e := doc.at("events", name)
		if !e.exists() {
			return check.Schemaf(e.label(), "event is not described")
		}

		// Older links-dialect things declare the payload at the top level.
		payload := e.at("data")
		if !payload.exists() {
			payload = e
		}
		if err := check.Equal(payload.at("type").label(), want.Type, payload.at("type").any()); err != nil {
			return err
		}
		if want.Unit != "" {
			if err := check.Equal(payload.at("unit").label(), want.Unit, payload.at("unit").any()); err != nil {
				return err
			}
		}
		if want.Description != "" {
			if err := check.Equal(e.at("description").label(), want.Description, e.at("description").any()); err != nil {
				return err
			}
		}

		if err := v.soleLink(e, v.opts.PathPrefix+"/events/"+name); err != nil {
			return err
		}
	}
	return nil
}

// soleLink checks that a descriptor has exactly one navigation link, to href.
func (v *Validator) soleLink(descriptor field, href string) error {
	links := descriptor.at(v.dialect.Key(dialect.FieldLinks))
	if err := check.Len(links.label(), 1, links.any()); err != nil {
		return err
	}
	target := links.at("0", v.dialect.Key(dialect.FieldHref))
	return check.Equal(target.label(), href, target.any())
}

func (v *Validator) rootLinks(doc field, summary *Summary) error {
	linksKey := v.dialect.Key(dialect.FieldLinks)
	links := doc.at(linksKey)
	all := links.array()
	first := 0

	if v.opts.SkipActionsEvents {
		if len(all) < 1 {
			return check.Schemaf(links.label(), "expected a link to the properties collection")
		}
		if v.dialect.RelTagged() {
			rel := links.at("0", v.dialect.Key(dialect.FieldRel))
			if err := check.Equal(rel.label(), "properties", rel.any()); err != nil {
				return err
			}
		}
		href := links.at("0", v.dialect.Key(dialect.FieldHref))
		if err := check.Equal(href.label(), v.opts.PathPrefix+"/properties", href.any()); err != nil {
			return err
		}
		first = 1
	}

	if v.opts.SkipDuplex {
		return nil
	}
	if len(all) <= first {
		return check.Schemaf(links.label(), "expected a link to the duplex endpoint")
	}

	scheme := "ws"
	if v.opts.Protocol == "https" {
		scheme = "wss"
	}
	duplexPattern := regexp.MustCompile(`^` + scheme + `://[^/]+` + regexp.QuoteMeta(v.opts.PathPrefix) + `(/|\?|$)`)

	for i := first; i < len(all); i++ {
		link := links.at(strconv.Itoa(i))
		rel := link.at(v.dialect.Key(dialect.FieldRel))
		if rel.exists() {
			if s, _ := rel.str(); s != "alternate" {
				continue
			}
		}

		href := link.at(v.dialect.Key(dialect.FieldHref))
		hrefStr, _ := href.str()
		media := link.at(v.dialect.Key(dialect.FieldMediaType))
		if media.exists() {
			if err := check.Equal(media.label(), "text/html", media.any()); err != nil {
				return err
			}
			if err := check.Equal(href.label(), v.opts.PathPrefix, href.any()); err != nil {
				return err
			}
			summary.DocumentHref = hrefStr
			continue
		}

		if !duplexPattern.MatchString(hrefStr) {
			return &check.Failure{
				Kind:     check.KindSchema,
				Field:    href.label(),
				Message:  "duplex endpoint does not address the thing",
				Expected: fmt.Sprintf("%s://<host>%s", scheme, v.opts.PathPrefix),
				Actual:   hrefStr,
			}
		}
		summary.DuplexHref = hrefStr
	}

	if summary.DuplexHref == "" {
		return check.Schemaf(links.label(), "no alternate link advertises the duplex endpoint")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
