package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/scenario"
	"github.com/webthings/thingcheck/internal/thing"
)

var names = []string{"Fetch and validate description", "Read all properties", "Open duplex channel"}

func failedRun() *scenario.Result {
	return &scenario.Result{
		Steps: []scenario.StepResult{
			{Step: scenario.Step{Index: 1, Total: 3, Name: names[0]}, Status: scenario.StepPassed, Duration: 12 * time.Millisecond},
			{
				Step:   scenario.Step{Index: 2, Total: 3, Name: names[1]},
				Status: scenario.StepFailed,
				Err:    check.Mismatch("properties.brightness", 50, 0),
			},
			{Step: scenario.Step{Index: 3, Total: 3, Name: names[2]}, Status: scenario.StepNotRun},
		},
		Description: &thing.Description{ID: "urn:dev:ops:my-lamp-1234", Title: "My Lamp"},
		Duration:    40 * time.Millisecond,
	}
}

func TestProgress(t *testing.T) {
	p := NewProgress(names)
	require.Len(t, p.Steps, 3)

	p.Start(scenario.Step{Index: 1, Total: 3, Name: names[0]})
	assert.Equal(t, StepRunning, p.Steps[0].State)
	assert.Equal(t, 1, p.Current)

	p.Finish(scenario.StepResult{Step: scenario.Step{Index: 1}, Status: scenario.StepPassed})
	p.Finish(scenario.StepResult{Step: scenario.Step{Index: 3}, Status: scenario.StepSkipped})
	assert.Equal(t, StepPassed, p.Steps[0].State)
	assert.Equal(t, StepSkipped, p.Steps[2].State)
	assert.InDelta(t, 2.0/3.0, p.Percent, 0.001)

	// Out of range updates are ignored.
	p.Finish(scenario.StepResult{Step: scenario.Step{Index: 9}, Status: scenario.StepFailed})

	out := p.Render()
	assert.Contains(t, out, names[0])
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "[1/3]")
}

func TestRunnerPlain(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(RunnerConfig{
		Title:   "Web Thing Conformance",
		Command: "thingcheck run",
		Params:  []Param{{Key: "Thing", Value: "http://localhost:8888"}},
		Steps:   names,
		Output:  &out,
	})

	result := r.Run(context.Background(), func(ctx context.Context, obs scenario.Observer) *scenario.Result {
		res := failedRun()
		for _, s := range res.Steps[:2] {
			obs.StepStarted(s.Step)
			obs.StepFinished(s)
		}
		return res
	})

	require.False(t, result.Passed())
	text := out.String()
	assert.Contains(t, text, "WEB THING CONFORMANCE")
	assert.Contains(t, text, "http://localhost:8888")
	assert.Contains(t, text, names[1])
	assert.Contains(t, text, "not run")
	assert.Contains(t, text, "FAILED")
	assert.Contains(t, text, "Troubleshooting")
	assert.Less(t, strings.Index(text, names[0]), strings.Index(text, names[2]))
}

func TestOutcomePassed(t *testing.T) {
	r := NewRunner(RunnerConfig{Steps: names, Output: &bytes.Buffer{}})
	res := &scenario.Result{
		Steps: []scenario.StepResult{
			{Step: scenario.Step{Index: 1}, Status: scenario.StepPassed},
			{Step: scenario.Step{Index: 2}, Status: scenario.StepPassed},
			{Step: scenario.Step{Index: 3}, Status: scenario.StepSkipped},
		},
		Description: &thing.Description{ID: "urn:dev:ops:my-lamp-1234", Title: "My Lamp"},
	}

	box := r.Outcome(res)
	assert.Equal(t, ResultSuccess, box.Type)
	assert.Contains(t, box.Details, Param{Key: "Steps", Value: "2 passed, 1 skipped"})
	assert.Contains(t, box.Details, Param{Key: "Thing", Value: "urn:dev:ops:my-lamp-1234"})
	assert.Contains(t, box.Render(), "PASSED")
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewReport("http://localhost:8888", "WoT", failedRun()).WriteJSON(&buf))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, false, got["passed"])
	assert.Equal(t, "WoT", got["flavor"])

	steps := got["steps"].([]any)
	require.Len(t, steps, 3)
	assert.Equal(t, "passed", steps[0].(map[string]any)["status"])
	assert.Equal(t, "not run", steps[2].(map[string]any)["status"])

	failure := got["failure"].(map[string]any)
	assert.Equal(t, names[1], failure["step"])
	assert.Equal(t, "Schema Mismatch", failure["kind"])
	assert.Equal(t, "properties.brightness", failure["field"])
	assert.NotEmpty(t, failure["troubleshooting"])
}

func TestReportPlainError(t *testing.T) {
	res := &scenario.Result{Steps: []scenario.StepResult{
		{Step: scenario.Step{Index: 1, Name: names[0]}, Status: scenario.StepFailed, Err: errors.New("boom")},
	}}
	r := NewReport("http://localhost", "Webthings", res)
	require.NotNil(t, r.Failure)
	assert.Empty(t, r.Failure.Kind)
	assert.Equal(t, "boom", r.Failure.Message)
	assert.Nil(t, r.Thing)
}

func TestLiveModel(t *testing.T) {
	cancelled := false
	m := NewLiveModel(NewProgress(names), func() { cancelled = true })

	model, _ := m.Update(stepStartedMsg(scenario.Step{Index: 1, Total: 3, Name: names[0]}))
	m = model.(LiveModel)
	assert.Equal(t, StepRunning, m.Progress.Steps[0].State)
	assert.Contains(t, m.View(), names[0])

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = model.(LiveModel)
	assert.True(t, cancelled)
	assert.True(t, m.Interrupted)
	assert.Contains(t, m.View(), "Interrupted")

	model, cmd := m.Update(runDoneMsg{result: failedRun()})
	m = model.(LiveModel)
	assert.True(t, m.Done)
	require.NotNil(t, cmd)
	assert.Equal(t, StepFailed, m.Progress.Steps[1].State)
	assert.Equal(t, StepNotRun, m.Progress.Steps[2].State)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, Confirm(strings.NewReader("lamp\n"), &out, "Delete profile", []string{"gone"}, "lamp"))
	assert.False(t, Confirm(strings.NewReader("nope\n"), &out, "Delete profile", nil, "lamp"))
	assert.False(t, Confirm(strings.NewReader(""), &out, "Delete profile", nil, "lamp"))
	assert.Contains(t, out.String(), "Operation cancelled")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"Name", "Host"}, [][]string{{"lamp", "192.168.1.20"}})
	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "192.168.1.20")
}
