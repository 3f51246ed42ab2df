// Package action observes action instances through their lifecycle.
//
// The device owns timing: the tracker invokes actions and then watches
// them advance, either by polling the instance resource or by consuming
// the duplex notifications the device pushes.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/describe"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
)

const collectionPath = "/actions"

// PollOptions bound the completion poll.
type PollOptions struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Timeout     time.Duration
}

// DefaultPollOptions returns the poll bounds used when none are configured.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:    100 * time.Millisecond,
		MaxInterval: time.Second,
		Multiplier:  2,
		Timeout:     10 * time.Second,
	}
}

// Tracker invokes actions and follows their instances.
type Tracker struct {
	http      transport.Requester
	fixture   *fixture.Fixture
	prefix    string
	poll      PollOptions
	inputs    map[string]*jsonschema.Schema
	completed int
}

// New creates a tracker for the fixture's actions. prefix is the thing's
// path prefix, which every instance href must carry.
func New(req transport.Requester, fx *fixture.Fixture, prefix string, poll PollOptions) (*Tracker, error) {
	def := DefaultPollOptions()
	if poll.Interval <= 0 {
		poll.Interval = def.Interval
	}
	if poll.MaxInterval < poll.Interval {
		poll.MaxInterval = poll.Interval
	}
	if poll.Multiplier < 1 {
		poll.Multiplier = def.Multiplier
	}
	if poll.Timeout <= 0 {
		poll.Timeout = def.Timeout
	}

	t := &Tracker{
		http:    req,
		fixture: fx,
		prefix:  strings.TrimRight(prefix, "/"),
		poll:    poll,
		inputs:  make(map[string]*jsonschema.Schema, len(fx.Actions)),
	}
	for name, a := range fx.Actions {
		schema, err := describe.CompileValue("https://thingcheck.local/actions/"+name+"/input.json", a.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("action %s input contract: %w", name, err)
		}
		t.inputs[name] = schema
	}
	return t, nil
}

// Completed returns the number of instances seen reaching completion.
func (t *Tracker) Completed() int {
	return t.completed
}

// CheckInput validates an input payload against the action's input contract.
func (t *Tracker) CheckInput(name string, input map[string]any) error {
	schema, ok := t.inputs[name]
	if !ok {
		return check.Schemaf(check.Path("actions", name), "action is not described")
	}
	v, err := jsonValue(input)
	if err != nil {
		return check.Schemaf(check.Path(name, "input"), "%v", err)
	}
	return describe.ValidateValue(schema, check.Path(name, "input"), v)
}

// AssertEmpty checks that no action instances exist.
func (t *Tracker) AssertEmpty(ctx context.Context) error {
	instances, err := t.list(ctx)
	if err != nil {
		return err
	}
	return check.Len("actions", 0, toAny(instances))
}

// InvokeRejected posts an input that violates the action's contract and
// checks that the thing refuses it without creating an instance.
func (t *Tracker) InvokeRejected(ctx context.Context, name string, input map[string]any) error {
	if err := t.CheckInput(name, input); err == nil {
		return fmt.Errorf("input %s satisfies the %s contract and cannot be used as a rejected input", check.Render(input), name)
	}

	before, err := t.list(ctx)
	if err != nil {
		return err
	}

	path := collectionPath + "/" + name
	resp, err := t.http.Do(ctx, http.MethodPost, path, input)
	if err != nil {
		return check.Transport(http.MethodPost, path, err)
	}
	if err := check.ClientError(http.MethodPost, path, resp.Status); err != nil {
		return err
	}

	after, err := t.list(ctx)
	if err != nil {
		return err
	}
	if len(after) != len(before) {
		return &check.Failure{
			Kind:     check.KindSchema,
			Field:    "actions",
			Message:  "rejected invocation created an instance",
			Expected: len(before),
			Actual:   len(after),
		}
	}
	return nil
}

// Invoke posts a valid input and checks the created instance.
func (t *Tracker) Invoke(ctx context.Context, name string, input map[string]any) (*thing.ActionInstance, error) {
	if err := t.CheckInput(name, input); err != nil {
		return nil, err
	}

	path := collectionPath + "/" + name
	resp, err := t.http.Do(ctx, http.MethodPost, path, input)
	if err != nil {
		return nil, check.Transport(http.MethodPost, path, err)
	}
	if err := check.Status(http.MethodPost, path, http.StatusCreated, resp.Status); err != nil {
		return nil, err
	}

	inst, err := decodeInstance(name, name, resp.Body)
	if err != nil {
		return nil, err
	}
	if inst.Status != thing.StatusCreated {
		return nil, check.Mismatch(check.Path(name, "status"), thing.StatusCreated.String(), inst.Status.String())
	}
	if err := t.checkCreated(name, inst, input); err != nil {
		return nil, err
	}
	inst.Input = input

	logging.Debug("Action created",
		zap.String("action", name),
		zap.String("href", inst.Href),
	)
	return inst, nil
}

// Poll fetches the instance until it completes or the poll times out.
// Intervals grow by the configured multiplier up to the cap.
func (t *Tracker) Poll(ctx context.Context, inst *thing.ActionInstance) (*thing.ActionInstance, error) {
	path := t.relative(inst.Href)
	lc := NewLifecycle(inst.Name)
	if err := lc.Observe(inst.Status); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.poll.Timeout)
	b := t.schedule()
	for {
		current, err := t.fetch(ctx, inst.Name, path)
		if err != nil {
			return nil, err
		}
		if err := lc.Observe(current.Status); err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			if err := t.checkCompleted(inst.Name, current, inst.Input); err != nil {
				return nil, err
			}
			if err := check.Equal(check.Path(inst.Name, "href"), inst.Href, current.Href); err != nil {
				return nil, err
			}
			t.completed++
			return current, nil
		}

		interval := b.NextBackOff()
		if interval == backoff.Stop || time.Now().Add(interval).After(deadline) {
			return nil, check.Timeout(fmt.Sprintf("%s %s did not complete (last status %s)", inst.Name, inst.ID, current.Status), t.poll.Timeout)
		}
		logging.Debug("Action not yet complete",
			zap.String("action", inst.Name),
			zap.String("status", current.Status.String()),
			zap.Duration("retry_in", interval),
		)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// schedule returns the poll backoff: no jitter, growing by the multiplier
// up to the cap, stopping once the poll timeout has elapsed.
func (t *Tracker) schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     t.poll.Interval,
		RandomizationFactor: 0,
		Multiplier:          t.poll.Multiplier,
		MaxInterval:         t.poll.MaxInterval,
		MaxElapsedTime:      t.poll.Timeout,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// VerifyCollection checks that the action collection holds exactly the given
// completed instance.
func (t *Tracker) VerifyCollection(ctx context.Context, inst *thing.ActionInstance) error {
	instances, err := t.list(ctx)
	if err != nil {
		return err
	}
	if err := check.Len("actions", 1, toAny(instances)); err != nil {
		return err
	}
	got := instances[0]
	field := check.Path("actions", inst.Name, 0)
	if err := check.Equal(check.Path(field, "name"), inst.Name, got.Name); err != nil {
		return err
	}
	if err := check.Equal(check.Path(field, "href"), inst.Href, got.Href); err != nil {
		return err
	}
	return t.checkCompleted(field, got, inst.Input)
}

// VerifyInstance fetches the instance resource and checks it round-trips.
func (t *Tracker) VerifyInstance(ctx context.Context, inst *thing.ActionInstance) error {
	got, err := t.fetch(ctx, inst.Name, t.relative(inst.Href))
	if err != nil {
		return err
	}
	if err := check.Equal(check.Path(inst.Name, "href"), inst.Href, got.Href); err != nil {
		return err
	}
	return t.checkCompleted(inst.Name, got, inst.Input)
}

// Delete removes the instance and checks the collection is empty afterwards.
func (t *Tracker) Delete(ctx context.Context, inst *thing.ActionInstance) error {
	path := t.relative(inst.Href)
	resp, err := t.http.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return check.Transport(http.MethodDelete, path, err)
	}
	if err := check.Status(http.MethodDelete, path, http.StatusNoContent, resp.Status); err != nil {
		return err
	}
	if err := check.NoBody(http.MethodDelete, path, resp.Status, resp.Body); err != nil {
		return err
	}

	instances, err := t.list(ctx)
	if err != nil {
		return err
	}
	return check.Len("actions", 0, toAny(instances))
}

// InvokeDuplex requests an action over the duplex channel.
func (t *Tracker) InvokeDuplex(ctx context.Context, ch transport.Channel, name string, input map[string]any) error {
	if err := t.CheckInput(name, input); err != nil {
		return err
	}
	if err := ch.Send(ctx, transport.MsgRequestAction, map[string]any{name: input}); err != nil {
		return check.Transport(transport.MsgRequestAction, name, err)
	}
	return nil
}

func (t *Tracker) relative(href string) string {
	return strings.TrimPrefix(href, t.prefix)
}

func (t *Tracker) fetch(ctx context.Context, name, path string) (*thing.ActionInstance, error) {
	resp, err := t.http.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, check.Transport(http.MethodGet, path, err)
	}
	if err := check.Status(http.MethodGet, path, http.StatusOK, resp.Status); err != nil {
		return nil, err
	}
	return decodeInstance(name, path, resp.Body)
}

func (t *Tracker) list(ctx context.Context) ([]*thing.ActionInstance, error) {
	resp, err := t.http.Do(ctx, http.MethodGet, collectionPath, nil)
	if err != nil {
		return nil, check.Transport(http.MethodGet, collectionPath, err)
	}
	if err := check.Status(http.MethodGet, collectionPath, http.StatusOK, resp.Status); err != nil {
		return nil, err
	}
	return decodeCollection(resp.Body)
}

// checkCreated validates the response to an action request. Some things
// only stamp timeRequested once the request is queued, so it is checked here
// only when present.
func (t *Tracker) checkCreated(field string, inst *thing.ActionInstance, input map[string]any) error {
	want := t.prefix + collectionPath + "/" + inst.Name + "/"
	if !strings.HasPrefix(inst.Href, want) || len(inst.Href) == len(want) {
		return check.Schemaf(check.Path(field, "href"), "%q is not an instance link under %s", inst.Href, want)
	}
	if err := check.Equal(check.Path(field, "output"), input, inst.Output); err != nil {
		return err
	}
	if inst.TimeRequested == "" {
		return nil
	}
	return thing.CheckTimestamp(check.Path(field, "timeRequested"), inst.TimeRequested)
}

// checkInstance validates the parts of a polled or pushed instance every
// status shares.
func (t *Tracker) checkInstance(field string, inst *thing.ActionInstance, input map[string]any) error {
	if err := t.checkCreated(field, inst, input); err != nil {
		return err
	}
	return thing.CheckTimestamp(check.Path(field, "timeRequested"), inst.TimeRequested)
}

// checkCompleted validates a terminal instance.
func (t *Tracker) checkCompleted(field string, inst *thing.ActionInstance, input map[string]any) error {
	if inst.Status != thing.StatusCompleted {
		return check.Mismatch(check.Path(field, "status"), thing.StatusCompleted.String(), inst.Status.String())
	}
	if err := t.checkInstance(field, inst, input); err != nil {
		return err
	}
	ended := inst.EndedField
	if ended == "" {
		ended = "timeEnded"
	}
	if err := thing.CheckTimestamp(check.Path(field, ended), inst.TimeEnded); err != nil {
		return err
	}
	return thing.CheckOrder(field, inst.TimeRequested, inst.TimeEnded)
}

// decodeInstance accepts a bare instance or one wrapped as {name: instance}.
func decodeInstance(name, field string, body any) (*thing.ActionInstance, error) {
	obj, err := check.Object(field, body)
	if err != nil {
		return nil, err
	}
	if wrapped, ok := obj[name].(map[string]any); ok && len(obj) == 1 {
		obj = wrapped
	}
	inst, err := thing.DecodeActionInstance(name, obj)
	if err != nil {
		return nil, check.Schemaf(field, "%v", err)
	}
	return inst, nil
}

// decodeCollection accepts {name: [instance]} and [{name: instance}].
func decodeCollection(body any) ([]*thing.ActionInstance, error) {
	var out []*thing.ActionInstance
	switch c := body.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		names := make([]string, 0, len(c))
		for name := range c {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			list, err := check.Array(check.Path("actions", name), c[name])
			if err != nil {
				return nil, err
			}
			for i, v := range list {
				inst, err := decodeInstance(name, check.Path("actions", name, i), v)
				if err != nil {
					return nil, err
				}
				out = append(out, inst)
			}
		}
	case []any:
		for i, v := range c {
			entry, err := check.Object(check.Path("actions", i), v)
			if err != nil {
				return nil, err
			}
			if len(entry) != 1 {
				return nil, check.Schemaf(check.Path("actions", i), "expected a single action name key, got %d keys", len(entry))
			}
			for name, doc := range entry {
				inst, err := decodeInstance(name, check.Path("actions", i, name), doc)
				if err != nil {
					return nil, err
				}
				out = append(out, inst)
			}
		}
	default:
		return nil, check.Schemaf("actions", "expected an object or array, got %s", check.Render(body))
	}
	return out, nil
}

func toAny(instances []*thing.ActionInstance) []any {
	out := make([]any, len(instances))
	for i, inst := range instances {
		out[i] = inst
	}
	return out
}

// jsonValue converts Go literals into the values encoding/json decodes.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
