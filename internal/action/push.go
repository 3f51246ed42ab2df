package action

import (
	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/reconcile"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
)

// Push follows one duplex-requested instance through the actionStatus
// notifications the thing pushes for it.
type Push struct {
	tracker   *Tracker
	name      string
	input     map[string]any
	lifecycle *Lifecycle
	href      string
	instance  *thing.ActionInstance
	created   string
}

// Expect adds the created, pending and completed notifications of one
// instance of the named action to set. Created must precede pending and
// pending must precede completed; anything else the set holds may
// interleave freely.
//
// Unsolicited propertyStatus messages arriving before the instance is
// created are skipped.
func (t *Tracker) Expect(set *reconcile.Set, name string, input map[string]any) *Push {
	p := &Push{
		tracker:   t,
		name:      name,
		input:     input,
		lifecycle: NewLifecycle(name),
	}

	p.created = p.label(thing.StatusCreated)
	p.expect(set, thing.StatusCreated)
	p.expect(set, thing.StatusPending).After(p.created)
	p.expect(set, thing.StatusCompleted).After(p.label(thing.StatusPending))

	set.Tolerate("propertyStatus before "+name+" was created", func(msg *transport.Message) bool {
		return msg.Type == transport.MsgPropertyStatus && !set.Seen(p.created)
	})
	return p
}

// Instance returns the completed instance, or nil before completion.
func (p *Push) Instance() *thing.ActionInstance {
	return p.instance
}

// Lifecycle returns the observed lifecycle.
func (p *Push) Lifecycle() *Lifecycle {
	return p.lifecycle
}

func (p *Push) label(status thing.ActionStatus) string {
	return p.name + " " + status.String()
}

func (p *Push) expect(set *reconcile.Set, status thing.ActionStatus) *reconcile.Expectation {
	return set.Expect(p.label(status), p.matcher(status), p.checker(status))
}

func (p *Push) matcher(status thing.ActionStatus) reconcile.Matcher {
	kind := reconcile.Kind(transport.MsgActionStatus, p.name)
	return func(msg *transport.Message) bool {
		if !kind(msg) {
			return false
		}
		doc, ok := msg.Data[p.name].(map[string]any)
		if !ok {
			return false
		}
		s, _ := doc["status"].(string)
		if s != status.String() {
			return false
		}
		if p.href != "" {
			href, _ := doc["href"].(string)
			return href == p.href
		}
		return true
	}
}

func (p *Push) checker(status thing.ActionStatus) reconcile.Checker {
	field := check.Path(transport.MsgActionStatus, p.name)
	return func(msg *transport.Message) error {
		inst, err := thing.DecodeActionInstance(p.name, msg.Data[p.name])
		if err != nil {
			return check.Schemaf(field, "%v", err)
		}
		if err := p.lifecycle.Advance(inst.Status); err != nil {
			return err
		}

		if status == thing.StatusCompleted {
			if err := p.tracker.checkCompleted(field, inst, p.input); err != nil {
				return err
			}
			inst.Input = p.input
			p.instance = inst
			p.tracker.completed++
			return nil
		}

		if err := p.tracker.checkInstance(field, inst, p.input); err != nil {
			return err
		}
		if status == thing.StatusCreated {
			p.href = inst.Href
		}
		return nil
	}
}
