package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/scenario"
)

// RunnerConfig holds the presentation settings of a conformance run.
type RunnerConfig struct {
	Title   string  // e.g., "Web Thing Conformance"
	Command string  // e.g., "thingcheck run"
	Params  []Param // Target parameters shown in the header
	Steps   []string
	Live    bool      // Animate progress with Bubble Tea
	Output  io.Writer // Default: os.Stdout
}

// Runner orchestrates the header, progress and result output of a run.
type Runner struct {
	config   RunnerConfig
	header   *Header
	progress *Progress
	output   io.Writer
	width    int
}

// NewRunner creates a runner for the named steps.
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params)
	header.SetWidth(width)
	progress := NewProgress(config.Steps)
	progress.SetWidth(width)

	return &Runner{
		config:   config,
		header:   header,
		progress: progress,
		output:   config.Output,
		width:    width,
	}
}

// Operation executes the run, reporting step progress to obs.
type Operation func(ctx context.Context, obs scenario.Observer) *scenario.Result

// Run prints the header, executes op while rendering progress, and prints
// the result box.
func (r *Runner) Run(ctx context.Context, op Operation) *scenario.Result {
	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	var result *scenario.Result
	if r.config.Live {
		result = r.runLive(ctx, op)
	} else {
		result = r.runPlain(ctx, op)
	}

	_, _ = fmt.Fprintln(r.output)
	_, _ = fmt.Fprintln(r.output, r.Outcome(result).Render())
	return result
}

func (r *Runner) runPlain(ctx context.Context, op Operation) *scenario.Result {
	result := op(ctx, &plainObserver{runner: r})
	for _, s := range result.Steps {
		if s.Status == scenario.StepNotRun {
			r.progress.Finish(s)
			_, _ = fmt.Fprintln(r.output, r.progress.RenderStep(r.progress.Steps[s.Index-1]))
		}
	}
	return result
}

func (r *Runner) runLive(ctx context.Context, op Operation) *scenario.Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewLiveModel(r.progress, cancel), tea.WithOutput(r.output))
	done := make(chan *scenario.Result, 1)
	go func() {
		result := op(ctx, liveObserver{program: program})
		done <- result
		program.Send(runDoneMsg{result: result})
	}()

	if _, err := program.Run(); err != nil {
		logging.Warn("Live progress view failed", zap.Error(err))
	}
	return <-done
}

// Outcome builds the result box for a finished run.
func (r *Runner) Outcome(result *scenario.Result) *Result {
	var box *Result
	if failed := result.Failed(); failed != nil {
		box = NewFailureResult(failed.Name, failed.Err, check.Troubleshooting(failed.Err))
	} else {
		passed, skipped := 0, 0
		for _, s := range result.Steps {
			switch s.Status {
			case scenario.StepPassed:
				passed++
			case scenario.StepSkipped:
				skipped++
			}
		}
		box = NewSuccessResult("Thing conforms", nil)
		if d := result.Description; d != nil {
			box.AddDetail("Thing", d.ID)
			box.AddDetail("Title", d.Title)
		}
		box.AddDetail("Steps", fmt.Sprintf("%d passed, %d skipped", passed, skipped))
	}
	box.AddDetail("Duration", result.Duration.Round(time.Millisecond).String())
	box.SetWidth(r.width)
	return box
}

// plainObserver prints each step as it finishes.
type plainObserver struct {
	runner *Runner
}

func (o *plainObserver) StepStarted(step scenario.Step) {
	o.runner.progress.Start(step)
}

func (o *plainObserver) StepFinished(result scenario.StepResult) {
	p := o.runner.progress
	p.Finish(result)
	if result.Index >= 1 && result.Index <= len(p.Steps) {
		_, _ = fmt.Fprintln(o.runner.output, p.RenderStep(p.Steps[result.Index-1]))
	}
}
