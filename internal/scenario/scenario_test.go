package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthings/thingcheck/internal/action"
	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/thingtest"
)

type recorder struct {
	mu       sync.Mutex
	started  []string
	finished []StepResult
}

func (r *recorder) StepStarted(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, step.Name)
}

func (r *recorder) StepFinished(result StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

func run(t *testing.T, lampOpts thingtest.Options, configure func(*Options)) (*Result, *recorder) {
	t.Helper()
	if lampOpts.Dialect == nil {
		lampOpts.Dialect = dialect.MustParse("Webthings")
	}
	lamp := thingtest.New(lampOpts)
	t.Cleanup(lamp.Close)

	opts := Options{
		Transport: lamp.Config(),
		Dialect:   lampOpts.Dialect,
		Fixture:   lampOpts.Fixture,
		Poll: action.PollOptions{
			Interval:    5 * time.Millisecond,
			MaxInterval: 20 * time.Millisecond,
			Multiplier:  2,
			Timeout:     2 * time.Second,
		},
		ReceiveTimeout: 2 * time.Second,
		DrainGrace:     30 * time.Millisecond,
	}
	if configure != nil {
		configure(&opts)
	}

	rec := &recorder{}
	o, err := New(opts, rec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return o.Run(ctx), rec
}

func statuses(r *Result) map[string]StepStatus {
	out := make(map[string]StepStatus, len(r.Steps))
	for _, s := range r.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func TestRunPasses(t *testing.T) {
	tests := []struct {
		name string
		opts thingtest.Options
	}{
		{name: "links dialect", opts: thingtest.Options{Dialect: dialect.MustParse("Webthings")}},
		{name: "forms dialect", opts: thingtest.Options{Dialect: dialect.MustParse("WoT")}},
		{name: "path prefix", opts: thingtest.Options{PathPrefix: "/things/lamp"}},
		{name: "authorization", opts: thingtest.Options{AuthToken: "secret"}},
		{name: "extra property status", opts: thingtest.Options{ExtraPropertyStatus: true}},
		{name: "completed first", opts: thingtest.Options{CompletedFirst: true}},
		{name: "alternate shapes", opts: thingtest.Options{GroupedCollection: true, WrapInstance: true, EndedKey: "timeCompleted"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, rec := run(t, tt.opts, nil)
			require.NoError(t, result.Err())
			assert.True(t, result.Passed())
			require.NotNil(t, result.Description)
			assert.Equal(t, "urn:dev:ops:my-lamp-1234", result.Description.ID)

			for _, s := range result.Steps {
				assert.Equal(t, StepPassed, s.Status, s.Name)
			}
			assert.Len(t, rec.started, len(steps))
			assert.Len(t, rec.finished, len(steps))
		})
	}
}

func TestRunFailsFast(t *testing.T) {
	tests := []struct {
		name string
		opts thingtest.Options
		step string
		kind func(error) bool
	}{
		{
			name: "wrong maximum",
			opts: thingtest.Options{Mutate: func(td map[string]any) {
				td["properties"].(map[string]any)["brightness"].(map[string]any)["maximum"] = 255
			}},
			step: "Fetch and validate description",
			kind: check.IsSchema,
		},
		{
			name: "wrong title",
			opts: thingtest.Options{Dialect: dialect.MustParse("WoT"), Mutate: func(td map[string]any) {
				td["title"] = "Your Lamp"
			}},
			step: "Fetch and validate description",
			kind: check.IsSchema,
		},
		{name: "write ignored", opts: thingtest.Options{WriteOffset: 1}, step: "Write property over HTTP", kind: check.IsSchema},
		{name: "invalid input accepted", opts: thingtest.Options{AcceptInvalidInput: true}, step: "Reject invalid action input", kind: check.IsTransport},
		{name: "missing timestamps", opts: thingtest.Options{OmitTimestamps: true}, step: "Invoke action and poll to completion", kind: check.IsTimestamp},
		{name: "zoneless timestamps", opts: thingtest.Options{BadTimestamps: true}, step: "Invoke action and poll to completion", kind: check.IsTimestamp},
		{name: "delete ignored", opts: thingtest.Options{KeepDeleted: true}, step: "Invoke action and poll to completion", kind: check.IsSchema},
		{name: "duplicate completion", opts: thingtest.Options{DuplicateCompleted: true}, step: "Invoke action over duplex", kind: check.IsSchema},
		{name: "wrong event value", opts: thingtest.Options{EventData: 99}, step: "Verify event log", kind: check.IsSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, rec := run(t, tt.opts, nil)
			require.False(t, result.Passed())

			failed := result.Failed()
			require.NotNil(t, failed)
			assert.Equal(t, tt.step, failed.Name)
			assert.True(t, tt.kind(failed.Err), "unexpected failure: %v", failed.Err)

			after := false
			for _, s := range result.Steps {
				if after {
					assert.Equal(t, StepNotRun, s.Status, s.Name)
				}
				if s.Name == tt.step {
					after = true
				}
			}
			assert.Equal(t, tt.step, rec.started[len(rec.started)-1])
		})
	}
}

func TestRunUnauthorized(t *testing.T) {
	result, _ := run(t, thingtest.Options{AuthToken: "secret"}, func(o *Options) {
		o.Transport.AuthHeader = "Bearer wrong"
	})
	failed := result.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "Fetch and validate description", failed.Name)
	assert.True(t, check.IsTransport(failed.Err))
	assert.Contains(t, failed.Err.Error(), "returned 401")
}

func TestRunPollTimeout(t *testing.T) {
	result, _ := run(t, thingtest.Options{TimeScale: 0.25}, func(o *Options) {
		o.Poll.Timeout = 50 * time.Millisecond
	})
	failed := result.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "Invoke action and poll to completion", failed.Name)
	assert.True(t, check.IsTimeout(failed.Err))
}

func TestRunSkipDuplex(t *testing.T) {
	result, rec := run(t, thingtest.Options{}, func(o *Options) {
		o.SkipDuplex = true
	})
	require.NoError(t, result.Err())

	got := statuses(result)
	assert.Equal(t, StepPassed, got["Invoke action and poll to completion"])
	assert.Equal(t, StepSkipped, got["Open duplex channel"])
	assert.Equal(t, StepSkipped, got["Subscribe to event and reconcile burst"])
	assert.Equal(t, StepSkipped, got["Close duplex channel"])
	assert.NotContains(t, rec.started, "Open duplex channel")
}

func TestRunSkipActionsEvents(t *testing.T) {
	result, _ := run(t, thingtest.Options{}, func(o *Options) {
		o.SkipActionsEvents = true
	})
	require.NoError(t, result.Err())

	got := statuses(result)
	assert.Equal(t, StepSkipped, got["Reject invalid action input"])
	assert.Equal(t, StepPassed, got["Write property over duplex"])
	assert.Equal(t, StepSkipped, got["Invoke action over duplex"])
	assert.Equal(t, StepPassed, got["Close duplex channel"])
}

func TestRunPropertiesOnlyFixture(t *testing.T) {
	fx := fixture.Default()
	fx.Actions = nil
	fx.Events = nil

	result, _ := run(t, thingtest.Options{Fixture: fx}, nil)
	require.NoError(t, result.Err())

	got := statuses(result)
	assert.Equal(t, StepPassed, got["Write property over duplex"])
	assert.Equal(t, StepSkipped, got["Check empty action and event logs"])
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.Error(t, err)

	lamp := thingtest.New(thingtest.Options{})
	defer lamp.Close()

	cfg := lamp.Config()
	cfg.Protocol = "gopher"
	_, err = New(Options{Transport: cfg, Dialect: dialect.MustParse("WoT")}, nil)
	assert.Error(t, err)

	o, err := New(Options{Transport: lamp.Config(), Dialect: dialect.MustParse("Webthings")}, nil)
	require.NoError(t, err)
	assert.Len(t, o.Steps(), len(steps))
	assert.Equal(t, "Fetch and validate description", o.Steps()[0])
}

func TestStepStatusText(t *testing.T) {
	text, err := StepSkipped.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "skipped", string(text))
	assert.Equal(t, "not run", StepNotRun.String())
}
