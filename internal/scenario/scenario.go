// Package scenario drives the end-to-end conformance run against one thing.
//
// Steps run strictly in order and the first failure aborts the run. There is
// no partial credit: a result either passed every step that was not skipped,
// or names the step that failed.
package scenario

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/action"
	"github.com/webthings/thingcheck/internal/describe"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/event"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/property"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
)

const (
	// DefaultReceiveTimeout bounds each wait for a burst of duplex notifications.
	DefaultReceiveTimeout = 10 * time.Second

	// DefaultDrainGrace is how long a completed burst is watched for stragglers.
	DefaultDrainGrace = 250 * time.Millisecond
)

// Dialer opens the duplex channel.
type Dialer func(ctx context.Context, url string, d *dialect.Dialect) (transport.Channel, error)

// Options configure a run.
type Options struct {
	Transport transport.Config
	Dialect   *dialect.Dialect
	Fixture   *fixture.Fixture

	SkipActionsEvents bool
	SkipDuplex        bool

	Poll           action.PollOptions
	ReceiveTimeout time.Duration
	DrainGrace     time.Duration

	// Dial replaces transport.Dial.
	Dial Dialer
}

// StepStatus is the outcome of one step.
type StepStatus int

const (
	// StepNotRun marks steps after a failure.
	StepNotRun StepStatus = iota
	StepPassed
	StepFailed
	StepSkipped
)

// String returns the report label of the status.
func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "not run"
	}
}

// MarshalText encodes the status by name.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Step identifies one step of the run.
type Step struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Name  string `json:"name"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Result is the outcome of a run.
type Result struct {
	Steps       []StepResult
	Description *thing.Description
	Duration    time.Duration
}

// Passed reports whether no step failed.
func (r *Result) Passed() bool {
	return r.Failed() == nil
}

// Failed returns the failed step, or nil.
func (r *Result) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// Err returns the failure that aborted the run, or nil.
func (r *Result) Err() error {
	if f := r.Failed(); f != nil {
		return f.Err
	}
	return nil
}

// Observer is notified as steps start and finish.
type Observer interface {
	StepStarted(step Step)
	StepFinished(result StepResult)
}

type nopObserver struct{}

func (nopObserver) StepStarted(Step)        {}
func (nopObserver) StepFinished(StepResult) {}

type step struct {
	name string
	skip func(o *Orchestrator) bool
	run  func(o *Orchestrator, ctx context.Context) error
}

// Orchestrator runs the conformance steps against one thing.
type Orchestrator struct {
	opts     Options
	observer Observer

	client     *transport.Client
	validator  *describe.Validator
	properties *property.Oracle
	actions    *action.Tracker
	events     *event.Matcher

	summary *describe.Summary
	channel transport.Channel
}

// New prepares a run. The observer may be nil.
func New(opts Options, observer Observer) (*Orchestrator, error) {
	if opts.Dialect == nil {
		return nil, fmt.Errorf("dialect is required")
	}
	if opts.Fixture == nil {
		opts.Fixture = fixture.Default()
	}
	if err := opts.Transport.Validate(); err != nil {
		return nil, err
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = DefaultDrainGrace
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, url string, d *dialect.Dialect) (transport.Channel, error) {
			return transport.Dial(ctx, url, d)
		}
	}
	if !opts.Fixture.HasActionsEvents() {
		opts.SkipActionsEvents = true
	}
	if observer == nil {
		observer = nopObserver{}
	}

	validator, err := describe.New(opts.Fixture, opts.Dialect, describe.Options{
		PathPrefix:        opts.Transport.PathPrefix,
		Protocol:          opts.Transport.Protocol,
		SkipActionsEvents: opts.SkipActionsEvents,
		SkipDuplex:        opts.SkipDuplex,
	})
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(opts.Transport)
	o := &Orchestrator{
		opts:       opts,
		observer:   observer,
		client:     client,
		validator:  validator,
		properties: property.New(client, opts.Dialect, opts.Fixture),
		events:     event.New(client, opts.Fixture),
	}
	if !opts.SkipActionsEvents {
		o.actions, err = action.New(client, opts.Fixture, opts.Transport.PathPrefix, opts.Poll)
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Observe replaces the observer notified by Run.
func (o *Orchestrator) Observe(observer Observer) {
	if observer == nil {
		observer = nopObserver{}
	}
	o.observer = observer
}

// Steps returns the names of every step in run order.
func (o *Orchestrator) Steps() []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// Run executes the steps until one fails. The duplex channel is closed on
// every exit path.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	start := time.Now()
	result := &Result{Steps: make([]StepResult, 0, len(steps))}

	defer o.closeChannel()

	failed := false
	for i, s := range steps {
		st := Step{Index: i + 1, Total: len(steps), Name: s.name}

		if failed || (s.skip != nil && s.skip(o)) {
			status := StepSkipped
			if failed {
				status = StepNotRun
			}
			r := StepResult{Step: st, Status: status}
			result.Steps = append(result.Steps, r)
			if !failed {
				o.observer.StepFinished(r)
			}
			continue
		}

		o.observer.StepStarted(st)
		logging.Info("Step started", zap.Int("step", st.Index), zap.String("name", st.Name))

		began := time.Now()
		err := s.run(o, ctx)
		r := StepResult{Step: st, Status: StepPassed, Duration: time.Since(began), Err: err}
		if err != nil {
			r.Status = StepFailed
			failed = true
			logging.Error("Step failed", zap.String("name", st.Name), zap.Error(err))
		} else {
			logging.Info("Step passed", zap.String("name", st.Name), zap.Duration("duration", r.Duration))
		}
		result.Steps = append(result.Steps, r)
		o.observer.StepFinished(r)
	}

	if o.summary != nil {
		result.Description = o.summary.Description
	}
	result.Duration = time.Since(start)
	return result
}

func (o *Orchestrator) closeChannel() {
	if o.channel == nil {
		return
	}
	if err := o.channel.Close(); err != nil {
		logging.Warn("Closing duplex channel failed", zap.Error(err))
	}
	o.channel = nil
}
