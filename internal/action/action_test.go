package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/reconcile"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/thingtest"
	"github.com/webthings/thingcheck/internal/transport"
)

var fastPoll = PollOptions{
	Interval:    5 * time.Millisecond,
	MaxInterval: 20 * time.Millisecond,
	Multiplier:  2,
	Timeout:     2 * time.Second,
}

func newTracker(t *testing.T, opts thingtest.Options, poll PollOptions) (*Tracker, *thingtest.Lamp) {
	t.Helper()
	lamp := thingtest.New(opts)
	t.Cleanup(lamp.Close)
	tr, err := New(transport.NewClient(lamp.Config()), fixture.Default(), opts.PathPrefix, poll)
	require.NoError(t, err)
	return tr, lamp
}

func TestLifecycle(t *testing.T) {
	lc := NewLifecycle("fade")
	require.NoError(t, lc.Advance(thing.StatusCreated))
	require.NoError(t, lc.Advance(thing.StatusPending))

	err := lc.Advance(thing.StatusPending)
	require.Error(t, err)
	assert.True(t, check.IsSchema(err))
	assert.Contains(t, err.Error(), "illegal transition pending -> pending")

	err = lc.Advance(thing.StatusCreated)
	assert.Error(t, err)

	require.NoError(t, lc.Observe(thing.StatusPending))
	require.NoError(t, lc.Observe(thing.StatusCompleted))
	assert.Equal(t, thing.StatusCompleted, lc.Status())
	assert.Equal(t, []thing.ActionStatus{thing.StatusCreated, thing.StatusPending, thing.StatusCompleted}, lc.Visited())
	assert.Equal(t, "fade(completed)", lc.String())
}

func TestLifecyclePollMaySkipPending(t *testing.T) {
	lc := NewLifecycle("fade")
	require.NoError(t, lc.Observe(thing.StatusCreated))
	require.NoError(t, lc.Observe(thing.StatusCreated))
	require.NoError(t, lc.Observe(thing.StatusCompleted))
	assert.Error(t, lc.Observe(thing.StatusPending))
}

func TestCheckInput(t *testing.T) {
	tr, _ := newTracker(t, thingtest.Options{}, fastPoll)

	tests := []struct {
		name  string
		input map[string]any
		valid bool
	}{
		{name: "valid", input: map[string]any{"brightness": 50, "duration": 2000}, valid: true},
		{name: "empty", input: map[string]any{}},
		{name: "missing duration", input: map[string]any{"brightness": 50}},
		{name: "wrong type", input: map[string]any{"brightness": "high", "duration": 10}},
		{name: "above maximum", input: map[string]any{"brightness": 101, "duration": 10}},
		{name: "below minimum", input: map[string]any{"brightness": 10, "duration": 0}},
		{name: "fractional", input: map[string]any{"brightness": 10.5, "duration": 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.CheckInput("fade", tt.input)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, check.IsSchema(err))
		})
	}

	assert.Error(t, tr.CheckInput("dim", map[string]any{}))
}

func TestHTTPLifecycle(t *testing.T) {
	fx := fixture.Default()
	for _, name := range dialect.Names() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr, lamp := newTracker(t, thingtest.Options{Dialect: dialect.MustParse(name), PathPrefix: "/things/lamp"}, fastPoll)

			require.NoError(t, tr.AssertEmpty(ctx))
			require.NoError(t, tr.InvokeRejected(ctx, "fade", fx.Scenario.InvalidInput))
			assert.Equal(t, 0, lamp.Instances())

			created, err := tr.Invoke(ctx, "fade", fx.Scenario.HTTPInput)
			require.NoError(t, err)
			assert.Equal(t, thing.StatusCreated, created.Status)
			assert.Contains(t, created.Href, "/things/lamp/actions/fade/")

			done, err := tr.Poll(ctx, created)
			require.NoError(t, err)
			assert.Equal(t, thing.StatusCompleted, done.Status)
			assert.Equal(t, created.Href, done.Href)
			assert.Equal(t, 1, tr.Completed())

			require.NoError(t, tr.VerifyCollection(ctx, done))
			require.NoError(t, tr.VerifyInstance(ctx, done))
			require.NoError(t, tr.Delete(ctx, done))
			assert.Equal(t, 0, lamp.Instances())
		})
	}
}

func TestCollectionAndInstanceShapes(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, thingtest.Options{
		GroupedCollection: true,
		WrapInstance:      true,
		EndedKey:          "timeCompleted",
	}, fastPoll)

	created, err := tr.Invoke(ctx, "fade", map[string]any{"brightness": 20, "duration": 5})
	require.NoError(t, err)
	done, err := tr.Poll(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "timeCompleted", done.EndedField)

	require.NoError(t, tr.VerifyCollection(ctx, done))
	require.NoError(t, tr.VerifyInstance(ctx, done))
}

func TestInvokeRejectedWithTextBody(t *testing.T) {
	tr, lamp := newTracker(t, thingtest.Options{}, fastPoll)

	require.NoError(t, tr.InvokeRejected(context.Background(), "fade", map[string]any{}))
	assert.Equal(t, 0, lamp.Instances())
}

func TestInvokeRejectedButCreated(t *testing.T) {
	tr, _ := newTracker(t, thingtest.Options{AcceptInvalidInput: true}, fastPoll)

	err := tr.InvokeRejected(context.Background(), "fade", map[string]any{})
	require.Error(t, err)
	assert.True(t, check.IsTransport(err))
	assert.Contains(t, err.Error(), "POST /actions/fade returned 201")
}

func TestInvokeRejectedNeedsInvalidInput(t *testing.T) {
	tr, _ := newTracker(t, thingtest.Options{}, fastPoll)

	err := tr.InvokeRejected(context.Background(), "fade", map[string]any{"brightness": 1, "duration": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be used as a rejected input")
}

func TestPollTimeout(t *testing.T) {
	poll := fastPoll
	poll.Timeout = 50 * time.Millisecond
	tr, _ := newTracker(t, thingtest.Options{TimeScale: 0.25}, poll)

	created, err := tr.Invoke(context.Background(), "fade", map[string]any{"brightness": 50, "duration": 2000})
	require.NoError(t, err)

	_, err = tr.Poll(context.Background(), created)
	require.Error(t, err)
	assert.True(t, check.IsTimeout(err))
	assert.Equal(t, 0, tr.Completed())
}

func TestInvokeBadTimestamp(t *testing.T) {
	tr, _ := newTracker(t, thingtest.Options{BadTimestamps: true}, fastPoll)

	_, err := tr.Invoke(context.Background(), "fade", map[string]any{"brightness": 50, "duration": 5})
	require.Error(t, err)
	assert.True(t, check.IsTimestamp(err))
	assert.Contains(t, err.Error(), "fade.timeRequested")
}

func TestInvokeUnstampedCreated(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, thingtest.Options{UnstampedCreate: true}, fastPoll)

	created, err := tr.Invoke(ctx, "fade", map[string]any{"brightness": 50, "duration": 5})
	require.NoError(t, err)
	assert.Empty(t, created.TimeRequested)

	done, err := tr.Poll(ctx, created)
	require.NoError(t, err)
	assert.NotEmpty(t, done.TimeRequested)
}

func TestPollRequiresTimeRequested(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, thingtest.Options{OmitTimestamps: true}, fastPoll)

	created, err := tr.Invoke(ctx, "fade", map[string]any{"brightness": 50, "duration": 5})
	require.NoError(t, err)

	_, err = tr.Poll(ctx, created)
	require.Error(t, err)
	assert.True(t, check.IsTimestamp(err))
	assert.Contains(t, err.Error(), "fade.timeRequested")
}

func TestDeleteKeepingInstance(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, thingtest.Options{KeepDeleted: true}, fastPoll)

	created, err := tr.Invoke(ctx, "fade", map[string]any{"brightness": 50, "duration": 5})
	require.NoError(t, err)
	done, err := tr.Poll(ctx, created)
	require.NoError(t, err)

	err = tr.Delete(ctx, done)
	require.Error(t, err)
	assert.True(t, check.IsSchema(err))
	assert.Contains(t, err.Error(), "unexpected length")
}

func TestDecodeCollectionShapes(t *testing.T) {
	inst := map[string]any{
		"href":          "/actions/fade/1",
		"status":        "completed",
		"timeRequested": "2024-01-02T03:04:05Z",
		"timeEnded":     "2024-01-02T03:04:06Z",
	}

	grouped, err := decodeCollection(map[string]any{"fade": []any{inst}})
	require.NoError(t, err)
	require.Len(t, grouped, 1)
	assert.Equal(t, "fade", grouped[0].Name)
	assert.Equal(t, "1", grouped[0].ID)

	listed, err := decodeCollection([]any{map[string]any{"fade": inst}})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, grouped[0].Href, listed[0].Href)

	empty, err := decodeCollection([]any{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = decodeCollection([]any{map[string]any{"fade": inst, "dim": inst}})
	assert.True(t, check.IsSchema(err))

	_, err = decodeCollection("nope")
	assert.True(t, check.IsSchema(err))
}

func dialLamp(t *testing.T, ctx context.Context, lamp *thingtest.Lamp, d *dialect.Dialect) *transport.Duplex {
	t.Helper()
	cfg := lamp.Config()
	url, err := cfg.DuplexURL("ws://localhost" + cfg.PathPrefix)
	require.NoError(t, err)
	ch, err := transport.Dial(ctx, url, d)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func pushSet(tr *Tracker, input map[string]any) (*reconcile.Set, *Push) {
	set := reconcile.New("requestAction fade")
	push := tr.Expect(set, "fade", input)
	set.Expect("propertyStatus brightness", reconcile.Kind(transport.MsgPropertyStatus, "brightness"),
		func(msg *transport.Message) error {
			return check.Equal("propertyStatus.brightness", input["brightness"], msg.Data["brightness"])
		})
	return set, push
}

func TestPushMode(t *testing.T) {
	tests := []struct {
		name string
		opts thingtest.Options
	}{
		{name: "in order"},
		{name: "completed first", opts: thingtest.Options{CompletedFirst: true}},
		{name: "extra property status", opts: thingtest.Options{ExtraPropertyStatus: true}},
		{name: "forms dialect", opts: thingtest.Options{Dialect: dialect.MustParse("WoT"), PathPrefix: "/things/lamp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if tt.opts.Dialect == nil {
				tt.opts.Dialect = dialect.MustParse("Webthings")
			}
			tr, lamp := newTracker(t, tt.opts, fastPoll)
			ch := dialLamp(t, ctx, lamp, tt.opts.Dialect)

			input := map[string]any{"brightness": 90, "duration": 1000}
			set, push := pushSet(tr, input)
			require.NoError(t, tr.InvokeDuplex(ctx, ch, "fade", input))
			require.NoError(t, set.Run(ctx, ch, 2*time.Second))

			assert.Equal(t, []thing.ActionStatus{thing.StatusCreated, thing.StatusPending, thing.StatusCompleted}, push.Lifecycle().Visited())
			require.NotNil(t, push.Instance())
			assert.Equal(t, 1, tr.Completed())

			require.NoError(t, tr.VerifyCollection(ctx, push.Instance()))
			require.NoError(t, tr.VerifyInstance(ctx, push.Instance()))
		})
	}
}

func TestPushModeDuplicateCompletion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := dialect.MustParse("Webthings")
	tr, lamp := newTracker(t, thingtest.Options{Dialect: d, DuplicateCompleted: true}, fastPoll)
	ch := dialLamp(t, ctx, lamp, d)

	input := map[string]any{"brightness": 90, "duration": 10}
	set, _ := pushSet(tr, input)
	require.NoError(t, tr.InvokeDuplex(ctx, ch, "fade", input))
	require.NoError(t, set.Run(ctx, ch, 2*time.Second))

	msg, err := ch.Receive(ctx)
	require.NoError(t, err)
	err = set.Offer(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "received more than once")
}

func TestPushModeMissingTimestamp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := dialect.MustParse("Webthings")
	tr, lamp := newTracker(t, thingtest.Options{Dialect: d, OmitTimestamps: true}, fastPoll)
	ch := dialLamp(t, ctx, lamp, d)

	input := map[string]any{"brightness": 90, "duration": 10}
	set, _ := pushSet(tr, input)
	require.NoError(t, tr.InvokeDuplex(ctx, ch, "fade", input))

	err := set.Run(ctx, ch, 2*time.Second)
	require.Error(t, err)
	assert.True(t, check.IsTimestamp(err))
	assert.Contains(t, err.Error(), "actionStatus.fade.timeRequested")
}

func TestPushModeRejectsReorderedStatus(t *testing.T) {
	tr, _ := newTracker(t, thingtest.Options{}, fastPoll)
	input := map[string]any{"brightness": 90, "duration": 10}
	set, _ := pushSet(tr, input)

	pending := &transport.Message{
		Type: transport.MsgActionStatus,
		Data: map[string]any{"fade": map[string]any{
			"href":          "/actions/fade/1",
			"status":        "pending",
			"output":        map[string]any{"brightness": 90.0, "duration": 10.0},
			"timeRequested": "2024-01-02T03:04:05Z",
		}},
	}
	err := set.Offer(pending)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fade pending arrived before fade created")
}
