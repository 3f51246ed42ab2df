package action

import (
	"fmt"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/thing"
)

// Lifecycle is the observed state of one action instance.
type Lifecycle struct {
	name    string
	status  thing.ActionStatus
	visited []thing.ActionStatus
}

// NewLifecycle starts an instance of the named action before any observation.
func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name}
}

// Status returns the latest observed status.
func (l *Lifecycle) Status() thing.ActionStatus {
	return l.status
}

// Visited returns every status observed, in order.
func (l *Lifecycle) Visited() []thing.ActionStatus {
	return append([]thing.ActionStatus(nil), l.visited...)
}

// Advance records a pushed notification. Each notification must move the
// instance forward; a repeat or a regression fails.
func (l *Lifecycle) Advance(next thing.ActionStatus) error {
	if !l.status.CanAdvanceTo(next) {
		return check.Schemaf(check.Path(l.name, "status"), "illegal transition %s -> %s", l.status, next)
	}
	l.status = next
	l.visited = append(l.visited, next)
	return nil
}

// Observe records a polled status. Polls may see the same status repeatedly
// but never an earlier one.
func (l *Lifecycle) Observe(next thing.ActionStatus) error {
	if next == l.status {
		return nil
	}
	return l.Advance(next)
}

// String implements fmt.Stringer.
func (l *Lifecycle) String() string {
	return fmt.Sprintf("%s(%s)", l.name, l.status)
}
