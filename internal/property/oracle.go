// Package property validates property reads and writes over both transports
// against the values the oracle itself set or verified.
package property

import (
	"context"
	"net/http"
	"time"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/reconcile"
	"github.com/webthings/thingcheck/internal/transport"
)

// Oracle tracks the expected property state.
type Oracle struct {
	http     transport.Requester
	dialect  *dialect.Dialect
	fixture  *fixture.Fixture
	expected map[string]any
}

// New creates an oracle seeded with the fixture's startup values.
func New(req transport.Requester, d *dialect.Dialect, fx *fixture.Fixture) *Oracle {
	o := &Oracle{http: req, dialect: d, fixture: fx}
	o.Seed()
	return o
}

// Seed resets the expected state to the fixture's startup values.
func (o *Oracle) Seed() {
	o.expected = o.fixture.InitialValues()
}

// Expect records a value believed to have taken effect through either transport.
func (o *Oracle) Expect(name string, value any) {
	o.expected[name] = value
}

// Expected returns the expected value of a property.
func (o *Oracle) Expected(name string) (any, bool) {
	v, ok := o.expected[name]
	return v, ok
}

// ReadAll fetches every property and checks each expected value.
func (o *Oracle) ReadAll(ctx context.Context) (map[string]any, error) {
	const path = "/properties"
	resp, err := o.http.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, check.Transport(http.MethodGet, path, err)
	}
	if err := check.Status(http.MethodGet, path, http.StatusOK, resp.Status); err != nil {
		return nil, err
	}
	values, err := check.Object("properties", resp.Body)
	if err != nil {
		return nil, err
	}
	for _, name := range o.fixture.PropertyNames() {
		if _, ok := values[name]; !ok {
			return nil, check.Schemaf(check.Path("properties", name), "property missing from bulk read")
		}
		if want, ok := o.expected[name]; ok {
			if err := check.Equal(check.Path("properties", name), want, values[name]); err != nil {
				return nil, err
			}
		}
	}
	return values, nil
}

// ReadOne fetches a single property and checks it against the expected value.
func (o *Oracle) ReadOne(ctx context.Context, name string) (any, error) {
	path := "/properties/" + name
	resp, err := o.http.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, check.Transport(http.MethodGet, path, err)
	}
	if err := check.Status(http.MethodGet, path, http.StatusOK, resp.Status); err != nil {
		return nil, err
	}
	value, err := o.dialect.DecodePropertyValue(name, resp.Body)
	if err != nil {
		return nil, check.Schemaf(path, "%v", err)
	}
	if want, ok := o.expected[name]; ok {
		if err := check.Equal(name, want, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// Write sets a property over HTTP, then reads it back.
func (o *Oracle) Write(ctx context.Context, name string, value any) error {
	path := "/properties/" + name
	resp, err := o.http.Do(ctx, http.MethodPut, path, o.dialect.EncodePropertyValue(name, value))
	if err != nil {
		return check.Transport(http.MethodPut, path, err)
	}
	if err := check.Status(http.MethodPut, path, http.StatusNoContent, resp.Status); err != nil {
		return err
	}
	if err := check.NoBody(http.MethodPut, path, resp.Status, resp.Body); err != nil {
		return err
	}

	o.Expect(name, value)
	_, err = o.ReadOne(ctx, name)
	return err
}

// WriteDuplex sets a property over the duplex channel, waits for the
// thing's propertyStatus and confirms the value over HTTP.
func (o *Oracle) WriteDuplex(ctx context.Context, ch transport.Channel, name string, value any, timeout time.Duration) error {
	if err := ch.Send(ctx, transport.MsgSetProperty, map[string]any{name: value}); err != nil {
		return check.Transport(transport.MsgSetProperty, name, err)
	}

	set := reconcile.New("setProperty " + name)
	o.StatusExpectation(set, name, value)
	if err := set.Run(ctx, ch, timeout); err != nil {
		return err
	}

	_, err := o.ReadOne(ctx, name)
	return err
}

// StatusExpectation adds the propertyStatus notification for name to set.
// Once matched, the value becomes the expected state.
func (o *Oracle) StatusExpectation(set *reconcile.Set, name string, value any) *reconcile.Expectation {
	return set.Expect("propertyStatus "+name,
		reconcile.Kind(transport.MsgPropertyStatus, name),
		func(msg *transport.Message) error {
			if err := check.Equal(check.Path(transport.MsgPropertyStatus, name), value, msg.Data[name]); err != nil {
				return err
			}
			o.Expect(name, value)
			return nil
		})
}
