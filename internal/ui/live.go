package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/webthings/thingcheck/internal/scenario"
)

type stepStartedMsg scenario.Step

type stepFinishedMsg scenario.StepResult

type runDoneMsg struct {
	result *scenario.Result
}

// LiveModel is the Bubble Tea model that animates a run while it executes.
type LiveModel struct {
	Progress    *Progress
	Spinner     spinner.Model
	Done        bool
	Interrupted bool
	cancel      context.CancelFunc
}

// NewLiveModel creates the live view. cancel is called when the user
// interrupts the run.
func NewLiveModel(p *Progress, cancel context.CancelFunc) LiveModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)
	return LiveModel{Progress: p, Spinner: s, cancel: cancel}
}

// Init implements tea.Model
func (m LiveModel) Init() tea.Cmd {
	return m.Spinner.Tick
}

// Update implements tea.Model
func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The run stops at its next blocking call and reports through runDoneMsg.
			if !m.Interrupted {
				m.Interrupted = true
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Progress.SetWidth(clampWidth(msg.Width))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case stepStartedMsg:
		m.Progress.Start(scenario.Step(msg))
		return m, nil

	case stepFinishedMsg:
		m.Progress.Finish(scenario.StepResult(msg))
		return m, nil

	case runDoneMsg:
		if msg.result != nil {
			m.Progress.Apply(msg.result)
		}
		m.Done = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model
func (m LiveModel) View() string {
	var b strings.Builder
	b.WriteString(m.Progress.RenderBar())
	b.WriteString("\n\n")
	for _, s := range m.Progress.Steps {
		b.WriteString(m.Progress.RenderStep(s))
		if s.State == StepRunning && !m.Done {
			b.WriteString(" ")
			b.WriteString(m.Spinner.View())
		}
		b.WriteString("\n")
	}
	if m.Interrupted && !m.Done {
		b.WriteString(StepNoteStyle.Render("\n  Interrupted, waiting for the current step to stop..."))
		b.WriteString("\n")
	}
	return b.String()
}

// liveObserver forwards step notifications into the running program.
type liveObserver struct {
	program *tea.Program
}

func (o liveObserver) StepStarted(step scenario.Step) {
	o.program.Send(stepStartedMsg(step))
}

func (o liveObserver) StepFinished(result scenario.StepResult) {
	o.program.Send(stepFinishedMsg(result))
}
