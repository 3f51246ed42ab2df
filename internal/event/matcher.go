// Package event checks event subscriptions over the duplex channel and the
// synchronous event log.
package event

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/reconcile"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
)

const logPath = "/events"

// Matcher validates event occurrences against the fixture's event descriptors.
type Matcher struct {
	http    transport.Requester
	fixture *fixture.Fixture
}

// New creates a matcher.
func New(req transport.Requester, fx *fixture.Fixture) *Matcher {
	return &Matcher{http: req, fixture: fx}
}

// AssertEmpty checks that the thing has not emitted any event yet.
func (m *Matcher) AssertEmpty(ctx context.Context) error {
	entries, err := m.fetch(ctx)
	if err != nil {
		return err
	}
	return check.Len("events", 0, entries)
}

// Subscribe asks the thing to push occurrences of the named event.
func (m *Matcher) Subscribe(ctx context.Context, ch transport.Channel, name string) error {
	if err := ch.Send(ctx, transport.MsgAddEventSubscription, map[string]any{name: map[string]any{}}); err != nil {
		return check.Transport(transport.MsgAddEventSubscription, name, err)
	}
	logging.Debug("Subscribed to event", zap.String("event", name))
	return nil
}

// Expect adds exactly one pushed occurrence of the named event carrying
// value to set.
func (m *Matcher) Expect(set *reconcile.Set, name string, value any) *reconcile.Expectation {
	field := check.Path(transport.MsgEvent, name)
	return set.Expect("event "+name, reconcile.Kind(transport.MsgEvent, name), func(msg *transport.Message) error {
		occ, err := thing.DecodeEventOccurrence(name, msg.Data[name])
		if err != nil {
			return check.Schemaf(field, "%v", err)
		}
		if err := check.Equal(check.Path(field, "data"), value, occ.Data); err != nil {
			return err
		}
		if err := thing.CheckTimestamp(check.Path(field, "timestamp"), occ.Timestamp); err != nil {
			return err
		}
		return m.CheckPayload(field, occ)
	})
}

// CheckPayload validates an occurrence against its event descriptor.
func (m *Matcher) CheckPayload(field string, occ *thing.EventOccurrence) error {
	desc, ok := m.fixture.Events[occ.Name]
	if !ok {
		return check.Schemaf(field, "event %q is not described", occ.Name)
	}
	if !thing.ConformsTo(desc.Type, occ.Data) {
		return check.Schemaf(check.Path(field, "data"), "%s is not a %s", check.Render(occ.Data), desc.Type)
	}
	return nil
}

// VerifyLog fetches the event log once the given number of actions have
// completed. Entries must be single-key objects naming described events,
// in non-decreasing timestamp order, and the last one must carry the
// scenario's event value.
func (m *Matcher) VerifyLog(ctx context.Context, completedActions int) ([]*thing.EventOccurrence, error) {
	entries, err := m.fetch(ctx)
	if err != nil {
		return nil, err
	}
	want := m.fixture.ExpectedEventLogLength(completedActions)
	if err := check.Len("events", want, entries); err != nil {
		return nil, err
	}

	occurrences := make([]*thing.EventOccurrence, 0, len(entries))
	for i, e := range entries {
		field := check.Path("events", i)
		entry, err := check.Object(field, e)
		if err != nil {
			return nil, err
		}
		if len(entry) != 1 {
			return nil, check.Schemaf(field, "expected a single event name key, got %d keys", len(entry))
		}
		for name, v := range entry {
			occ, err := thing.DecodeEventOccurrence(name, v)
			if err != nil {
				return nil, check.Schemaf(check.Path(field, name), "%v", err)
			}
			if err := m.CheckPayload(check.Path(field, name), occ); err != nil {
				return nil, err
			}
			if err := thing.CheckTimestamp(check.Path(field, name, "timestamp"), occ.Timestamp); err != nil {
				return nil, err
			}
			if n := len(occurrences); n > 0 {
				if err := thing.CheckOrder(field, occurrences[n-1].Timestamp, occ.Timestamp); err != nil {
					return nil, err
				}
			}
			occurrences = append(occurrences, occ)
		}
	}

	if n := len(occurrences); n > 0 {
		last := occurrences[n-1]
		field := check.Path("events", n-1, last.Name)
		if err := check.Equal(check.Path(field, "name"), m.fixture.Scenario.Event, last.Name); err != nil {
			return nil, err
		}
		if err := check.Equal(check.Path(field, "data"), m.fixture.Scenario.EventValue, last.Data); err != nil {
			return nil, err
		}
	}
	return occurrences, nil
}

func (m *Matcher) fetch(ctx context.Context) ([]any, error) {
	resp, err := m.http.Do(ctx, http.MethodGet, logPath, nil)
	if err != nil {
		return nil, check.Transport(http.MethodGet, logPath, err)
	}
	if err := check.Status(http.MethodGet, logPath, http.StatusOK, resp.Status); err != nil {
		return nil, err
	}
	return check.Array("events", resp.Body)
}
