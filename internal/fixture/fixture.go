// Package fixture holds the expected capability fixture and the literal
// values the end-to-end scenario writes and expects back.
//
// The built-in default describes the reference lamp. A YAML document with the
// same layout can replace it for things that expose other capabilities.
package fixture

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Fixture is the expected capability surface of the thing under test.
type Fixture struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Security       string   `yaml:"security"`
	SecurityScheme string   `yaml:"securityScheme"`
	Types          []string `yaml:"types"`

	Properties map[string]*Property `yaml:"properties"`
	Actions    map[string]*Action   `yaml:"actions,omitempty"`
	Events     map[string]*Event    `yaml:"events,omitempty"`

	Scenario Scenario `yaml:"scenario"`
}

// Property is one expected property descriptor and its value at startup.
type Property struct {
	SemanticType string   `yaml:"semanticType"`
	Title        string   `yaml:"title"`
	Type         string   `yaml:"type"`
	Description  string   `yaml:"description"`
	Minimum      *float64 `yaml:"minimum,omitempty"`
	Maximum      *float64 `yaml:"maximum,omitempty"`
	Unit         string   `yaml:"unit,omitempty"`
	Initial      any      `yaml:"initial,omitempty"`
}

// Action is one expected action descriptor.
type Action struct {
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Input       map[string]*InputField `yaml:"input"`
	Required    []string               `yaml:"required,omitempty"`
}

// InputField is one member of an action's input object.
type InputField struct {
	Type    string   `yaml:"type"`
	Minimum *float64 `yaml:"minimum,omitempty"`
	Maximum *float64 `yaml:"maximum,omitempty"`
	Unit    string   `yaml:"unit,omitempty"`
}

// Event is one expected event descriptor.
type Event struct {
	Type        string `yaml:"type"`
	Unit        string `yaml:"unit,omitempty"`
	Description string `yaml:"description"`
}

// Scenario holds the values the scenario drives through the thing.
type Scenario struct {
	// Property is written over both transports.
	Property    string `yaml:"property"`
	HTTPWrite   any    `yaml:"httpWrite"`
	DuplexWrite any    `yaml:"duplexWrite"`

	// Action is invoked three times: over HTTP, over the duplex channel and
	// once more to trigger Event.
	Action       string         `yaml:"action"`
	InvalidInput map[string]any `yaml:"invalidInput"`
	HTTPInput    map[string]any `yaml:"httpInput"`
	DuplexInput  map[string]any `yaml:"duplexInput"`
	TriggerInput map[string]any `yaml:"triggerInput"`

	// Event is subscribed to and expected once per completed action.
	Event      string `yaml:"event"`
	EventValue any    `yaml:"eventValue"`

	// EventLogLength pins the event log length after the duplex action.
	// When zero it is derived from the completed actions and EventsPerAction.
	EventLogLength  int `yaml:"eventLogLength,omitempty"`
	EventsPerAction int `yaml:"eventsPerAction,omitempty"`

	// ActionProperty names the property the action drives to its input
	// value of the same name.
	ActionProperty string `yaml:"actionProperty"`
}

func ptr(v float64) *float64 { return &v }

// Default returns the fixture of the reference lamp.
func Default() *Fixture {
	return &Fixture{
		ID:             "urn:dev:ops:my-lamp-1234",
		Title:          "My Lamp",
		Description:    "A web connected lamp",
		Security:       "nosec_sc",
		SecurityScheme: "nosec",
		Types:          []string{"OnOffSwitch", "Light"},
		Properties: map[string]*Property{
			"on": {
				SemanticType: "OnOffProperty",
				Title:        "On/Off",
				Type:         "boolean",
				Description:  "Whether the lamp is turned on",
				Initial:      true,
			},
			"brightness": {
				SemanticType: "BrightnessProperty",
				Title:        "Brightness",
				Type:         "integer",
				Description:  "The level of light from 0-100",
				Minimum:      ptr(0),
				Maximum:      ptr(100),
				Unit:         "percent",
				Initial:      50,
			},
		},
		Actions: map[string]*Action{
			"fade": {
				Title:       "Fade",
				Description: "Fade the lamp to a given level",
				Input: map[string]*InputField{
					"brightness": {Type: "integer", Minimum: ptr(0), Maximum: ptr(100), Unit: "percent"},
					"duration":   {Type: "integer", Minimum: ptr(1), Unit: "milliseconds"},
				},
				Required: []string{"brightness", "duration"},
			},
		},
		Events: map[string]*Event{
			"overheated": {
				Type:        "number",
				Unit:        "degree celsius",
				Description: "The lamp has exceeded its safe operating temperature",
			},
		},
		Scenario: Scenario{
			Property:        "brightness",
			HTTPWrite:       25,
			DuplexWrite:     10,
			Action:          "fade",
			InvalidInput:    map[string]any{},
			HTTPInput:       map[string]any{"brightness": 50, "duration": 2000},
			DuplexInput:     map[string]any{"brightness": 90, "duration": 1000},
			TriggerInput:    map[string]any{"brightness": 100, "duration": 500},
			Event:           "overheated",
			EventValue:      102,
			EventLogLength:  3,
			EventsPerAction: 1,
			ActionProperty:  "brightness",
		},
	}
}

// Load reads a fixture document.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a fixture document.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if f.Scenario.EventsPerAction == 0 {
		f.Scenario.EventsPerAction = 1
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that the scenario only names capabilities the fixture declares.
func (f *Fixture) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("fixture: id is required")
	}
	if len(f.Properties) == 0 {
		return fmt.Errorf("fixture: at least one property is required")
	}
	s := f.Scenario
	if _, ok := f.Properties[s.Property]; !ok {
		return fmt.Errorf("fixture: scenario property %q is not declared", s.Property)
	}
	if s.HTTPWrite == nil || s.DuplexWrite == nil {
		return fmt.Errorf("fixture: scenario httpWrite and duplexWrite are required")
	}

	if len(f.Actions) == 0 && len(f.Events) == 0 {
		return nil
	}
	if _, ok := f.Actions[s.Action]; !ok {
		return fmt.Errorf("fixture: scenario action %q is not declared", s.Action)
	}
	if _, ok := f.Events[s.Event]; !ok {
		return fmt.Errorf("fixture: scenario event %q is not declared", s.Event)
	}
	if s.ActionProperty != "" {
		if _, ok := f.Properties[s.ActionProperty]; !ok {
			return fmt.Errorf("fixture: scenario actionProperty %q is not declared", s.ActionProperty)
		}
	}
	if s.EventsPerAction < 0 || s.EventLogLength < 0 {
		return fmt.Errorf("fixture: event counts must not be negative")
	}
	return nil
}

// HasActionsEvents reports whether the fixture exercises actions and events.
func (f *Fixture) HasActionsEvents() bool {
	return len(f.Actions) > 0
}

// PropertyNames returns the declared property names in sorted order.
func (f *Fixture) PropertyNames() []string {
	names := make([]string, 0, len(f.Properties))
	for name := range f.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitialValues returns the startup value of every property that declares one.
func (f *Fixture) InitialValues() map[string]any {
	values := make(map[string]any)
	for name, p := range f.Properties {
		if p.Initial != nil {
			values[name] = p.Initial
		}
	}
	return values
}

// ExpectedEventLogLength returns the number of entries the event log must
// hold once the given number of actions have completed.
func (f *Fixture) ExpectedEventLogLength(completedActions int) int {
	if f.Scenario.EventLogLength > 0 {
		return f.Scenario.EventLogLength
	}
	return completedActions * f.Scenario.EventsPerAction
}

// ActionTarget returns the value the action property holds after the action
// completes with the given input, and whether the action drives a property.
func (f *Fixture) ActionTarget(input map[string]any) (string, any, bool) {
	name := f.Scenario.ActionProperty
	if name == "" {
		return "", nil, false
	}
	v, ok := input[name]
	return name, v, ok
}

// InputSchema renders an action's input contract as a JSON schema document.
func (a *Action) InputSchema() map[string]any {
	props := make(map[string]any, len(a.Input))
	for name, field := range a.Input {
		p := map[string]any{"type": field.Type}
		if field.Minimum != nil {
			p["minimum"] = *field.Minimum
		}
		if field.Maximum != nil {
			p["maximum"] = *field.Maximum
		}
		props[name] = p
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(a.Required) > 0 {
		required := make([]any, len(a.Required))
		for i, r := range a.Required {
			required[i] = r
		}
		schema["required"] = required
	}
	return schema
}
