package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/webthings/thingcheck/internal/scenario"
)

// StepState is the display state of a step. It extends the scenario's
// outcome with the states a step passes through while the run is live.
type StepState int

const (
	StepWaiting StepState = iota
	StepRunning
	StepPassed
	StepFailed
	StepSkipped
	StepNotRun
)

// stateOf maps a finished step's outcome to its display state.
func stateOf(s scenario.StepStatus) StepState {
	switch s {
	case scenario.StepPassed:
		return StepPassed
	case scenario.StepFailed:
		return StepFailed
	case scenario.StepSkipped:
		return StepSkipped
	default:
		return StepNotRun
	}
}

// Step is a single line of the step list.
type Step struct {
	Number   int
	Name     string
	State    StepState
	Duration time.Duration
}

// Progress tracks the steps of a run and renders them with a progress bar.
type Progress struct {
	Steps   []Step
	Current int // Running step (1-based), 0 before the first
	Percent float64
	Width   int
	bar     progress.Model
}

// NewProgress creates a progress display for the named steps.
func NewProgress(names []string) *Progress {
	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{Number: i + 1, Name: name}
	}
	p := &Progress{Steps: steps}
	p.SetWidth(GetTerminalWidth())
	return p
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // room for percentage and step count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	return p
}

// Start marks a step as running.
func (p *Progress) Start(step scenario.Step) {
	s := p.step(step.Index)
	if s == nil {
		return
	}
	s.State = StepRunning
	p.Current = step.Index
}

// Finish records the outcome of a step.
func (p *Progress) Finish(result scenario.StepResult) {
	s := p.step(result.Index)
	if s == nil {
		return
	}
	s.State = stateOf(result.Status)
	s.Duration = result.Duration

	done := 0
	for _, st := range p.Steps {
		if st.State == StepPassed || st.State == StepSkipped {
			done++
		}
	}
	if len(p.Steps) > 0 {
		p.Percent = float64(done) / float64(len(p.Steps))
	}
}

// Apply copies every outcome of a finished run, including steps that never
// started.
func (p *Progress) Apply(result *scenario.Result) {
	for _, r := range result.Steps {
		p.Finish(r)
	}
}

func (p *Progress) step(number int) *Step {
	if number < 1 || number > len(p.Steps) {
		return nil
	}
	return &p.Steps[number-1]
}

// Render returns the progress bar followed by the step list.
func (p *Progress) Render() string {
	var b strings.Builder
	b.WriteString(p.RenderBar())
	b.WriteString("\n\n")
	lines := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		lines[i] = p.RenderStep(s)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// RenderBar renders the progress bar line.
func (p *Progress) RenderBar() string {
	return lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(p.Percent), p.Percent*100, p.Current, len(p.Steps)))
}

// RenderStep renders a single step line.
func (p *Progress) RenderStep(step Step) string {
	var marker, note string
	style := StepPendingStyle

	switch step.State {
	case StepPassed:
		marker, style = StepMarkerPassed, StepPassedStyle
		note = step.Duration.Round(time.Millisecond).String()
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
		note = step.Duration.Round(time.Millisecond).String()
	case StepSkipped:
		marker, note = StepMarkerSkipped, "skipped"
	case StepNotRun:
		marker, note = StepMarkerPending, "not run"
	default:
		marker = StepMarkerPending
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%2d/%d] ", step.Number, len(p.Steps)))
	b.WriteString(style.Render(step.Name))

	padding := 45 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if note != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + note + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
