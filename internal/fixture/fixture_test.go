package fixture

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	f := Default()
	require.NoError(t, f.Validate())
	assert.True(t, f.HasActionsEvents())
	assert.Equal(t, []string{"brightness", "on"}, f.PropertyNames())
	assert.Equal(t, map[string]any{"brightness": 50, "on": true}, f.InitialValues())
	assert.Equal(t, 100.0, *f.Properties["brightness"].Maximum)
}

func TestLoadPropertiesOnly(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "switch.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "urn:dev:ops:my-switch-0001", f.ID)
	assert.False(t, f.HasActionsEvents())
	assert.Equal(t, 3, f.Scenario.HTTPWrite)
	assert.Equal(t, 1, f.Scenario.EventsPerAction)
	assert.Zero(t, f.Scenario.EventLogLength)
	assert.Equal(t, 10.0, *f.Properties["level"].Maximum)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsUndeclaredNames(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no id", "properties: {a: {type: boolean}}\nscenario: {property: a, httpWrite: true, duplexWrite: false}"},
		{"unknown property", "id: x\nproperties: {a: {type: boolean}}\nscenario: {property: b, httpWrite: true, duplexWrite: false}"},
		{"missing writes", "id: x\nproperties: {a: {type: boolean}}\nscenario: {property: a}"},
		{"unknown action", "id: x\nproperties: {a: {type: boolean}}\nactions: {go: {title: Go}}\nevents: {e: {type: number}}\nscenario: {property: a, httpWrite: true, duplexWrite: false, action: stop, event: e}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestExpectedEventLogLength(t *testing.T) {
	f := Default()
	assert.Equal(t, 3, f.ExpectedEventLogLength(2))
	assert.Equal(t, 3, f.ExpectedEventLogLength(5))

	f.Scenario.EventLogLength = 0
	assert.Equal(t, 2, f.ExpectedEventLogLength(2))

	f.Scenario.EventsPerAction = 2
	assert.Equal(t, 4, f.ExpectedEventLogLength(2))
}

func TestActionTarget(t *testing.T) {
	f := Default()
	name, v, ok := f.ActionTarget(f.Scenario.DuplexInput)
	require.True(t, ok)
	assert.Equal(t, "brightness", name)
	assert.Equal(t, 90, v)

	f.Scenario.ActionProperty = ""
	_, _, ok = f.ActionTarget(f.Scenario.DuplexInput)
	assert.False(t, ok)
}

func TestInputSchema(t *testing.T) {
	schema := Default().Actions["fade"].InputSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"brightness", "duration"}, schema["required"])

	props := schema["properties"].(map[string]any)
	duration := props["duration"].(map[string]any)
	assert.Equal(t, 1.0, duration["minimum"])
	assert.NotContains(t, duration, "maximum")
}
