package scenario

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/reconcile"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
)

var steps = []step{
	{name: "Fetch and validate description", run: (*Orchestrator).fetchDescription},
	{name: "Read all properties", run: (*Orchestrator).readAll},
	{name: "Read one property", run: (*Orchestrator).readOne},
	{name: "Write property over HTTP", run: (*Orchestrator).writeHTTP},
	{name: "Check empty action and event logs", skip: skipActions, run: (*Orchestrator).assertEmpty},
	{name: "Reject invalid action input", skip: skipActions, run: (*Orchestrator).rejectInvalid},
	{name: "Invoke action and poll to completion", skip: skipActions, run: (*Orchestrator).invokeHTTP},
	{name: "Open duplex channel", skip: skipDuplex, run: (*Orchestrator).openChannel},
	{name: "Write property over duplex", skip: skipDuplex, run: (*Orchestrator).writeDuplex},
	{name: "Invoke action over duplex", skip: skipDuplexActions, run: (*Orchestrator).invokeDuplex},
	{name: "Verify event log", skip: skipDuplexActions, run: (*Orchestrator).verifyEventLog},
	{name: "Subscribe to event and reconcile burst", skip: skipDuplexActions, run: (*Orchestrator).subscribe},
	{name: "Close duplex channel", skip: skipDuplex, run: (*Orchestrator).closeDuplex},
}

func skipActions(o *Orchestrator) bool { return o.opts.SkipActionsEvents }

func skipDuplex(o *Orchestrator) bool { return o.opts.SkipDuplex }

func skipDuplexActions(o *Orchestrator) bool {
	return o.opts.SkipDuplex || o.opts.SkipActionsEvents
}

func (o *Orchestrator) fetchDescription(ctx context.Context) error {
	resp, err := o.client.Do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return check.Transport(http.MethodGet, "/", err)
	}
	if err := check.Status(http.MethodGet, "/", http.StatusOK, resp.Status); err != nil {
		return err
	}
	summary, err := o.validator.Validate(resp.Raw)
	if err != nil {
		return err
	}
	o.summary = summary
	logging.Debug("Description valid",
		zap.String("id", summary.Description.ID),
		zap.String("duplex", summary.DuplexHref),
	)
	return nil
}

func (o *Orchestrator) readAll(ctx context.Context) error {
	_, err := o.properties.ReadAll(ctx)
	return err
}

func (o *Orchestrator) readOne(ctx context.Context) error {
	_, err := o.properties.ReadOne(ctx, o.opts.Fixture.Scenario.Property)
	return err
}

func (o *Orchestrator) writeHTTP(ctx context.Context) error {
	s := o.opts.Fixture.Scenario
	return o.properties.Write(ctx, s.Property, s.HTTPWrite)
}

func (o *Orchestrator) assertEmpty(ctx context.Context) error {
	if err := o.events.AssertEmpty(ctx); err != nil {
		return err
	}
	return o.actions.AssertEmpty(ctx)
}

func (o *Orchestrator) rejectInvalid(ctx context.Context) error {
	s := o.opts.Fixture.Scenario
	return o.actions.InvokeRejected(ctx, s.Action, s.InvalidInput)
}

func (o *Orchestrator) invokeHTTP(ctx context.Context) error {
	s := o.opts.Fixture.Scenario
	created, err := o.actions.Invoke(ctx, s.Action, s.HTTPInput)
	if err != nil {
		return err
	}
	done, err := o.actions.Poll(ctx, created)
	if err != nil {
		return err
	}
	if name, value, ok := o.opts.Fixture.ActionTarget(s.HTTPInput); ok {
		o.properties.Expect(name, value)
	}
	if err := o.actions.VerifyCollection(ctx, done); err != nil {
		return err
	}
	if err := o.actions.VerifyInstance(ctx, done); err != nil {
		return err
	}
	return o.actions.Delete(ctx, done)
}

func (o *Orchestrator) openChannel(ctx context.Context) error {
	href := o.summary.DuplexHref
	if href == "" {
		return check.Schemaf("links", "no duplex endpoint advertised")
	}
	url, err := o.opts.Transport.DuplexURL(href)
	if err != nil {
		return check.Schemaf("links", "%v", err)
	}
	ch, err := o.opts.Dial(ctx, url, o.opts.Dialect)
	if err != nil {
		return check.Transport("OPEN", href, err)
	}
	o.channel = ch
	logging.LogDuplexEvent(href, "open")
	return nil
}

func (o *Orchestrator) writeDuplex(ctx context.Context) error {
	s := o.opts.Fixture.Scenario
	return o.properties.WriteDuplex(ctx, o.channel, s.Property, s.DuplexWrite, o.opts.ReceiveTimeout)
}

// pushAction requests the action over the duplex channel and reconciles its
// notifications with the property change it drives and, when event is set,
// one occurrence of that event.
func (o *Orchestrator) pushAction(ctx context.Context, what string, input map[string]any, event string) (*thing.ActionInstance, error) {
	s := o.opts.Fixture.Scenario

	set := reconcile.New(what)
	push := o.actions.Expect(set, s.Action, input)
	if name, value, ok := o.opts.Fixture.ActionTarget(input); ok {
		o.properties.StatusExpectation(set, name, value)
	}
	if event != "" {
		o.events.Expect(set, event, s.EventValue)
	}

	if err := o.actions.InvokeDuplex(ctx, o.channel, s.Action, input); err != nil {
		return nil, err
	}
	if err := set.Run(ctx, o.channel, o.opts.ReceiveTimeout); err != nil {
		return nil, err
	}
	if err := set.Drain(ctx, o.channel, o.opts.DrainGrace); err != nil {
		return nil, err
	}
	return push.Instance(), nil
}

func (o *Orchestrator) invokeDuplex(ctx context.Context) error {
	s := o.opts.Fixture.Scenario
	inst, err := o.pushAction(ctx, "requestAction "+s.Action, s.DuplexInput, "")
	if err != nil {
		return err
	}
	if err := o.actions.VerifyCollection(ctx, inst); err != nil {
		return err
	}
	if err := o.actions.VerifyInstance(ctx, inst); err != nil {
		return err
	}
	if name, _, ok := o.opts.Fixture.ActionTarget(s.DuplexInput); ok {
		if _, err := o.properties.ReadOne(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyEventLog(ctx context.Context) error {
	_, err := o.events.VerifyLog(ctx, o.actions.Completed())
	return err
}

func (o *Orchestrator) subscribe(ctx context.Context) error {
	s := o.opts.Fixture.Scenario
	if err := o.events.Subscribe(ctx, o.channel, s.Event); err != nil {
		return err
	}
	_, err := o.pushAction(ctx, "addEventSubscription "+s.Event, s.TriggerInput, s.Event)
	return err
}

func (o *Orchestrator) closeDuplex(context.Context) error {
	ch := o.channel
	o.channel = nil
	if err := ch.Close(); err != nil && !transport.IsClosed(err) {
		return check.Transport("CLOSE", "duplex", err)
	}
	logging.LogDuplexEvent(o.summary.DuplexHref, "closed")
	return nil
}
