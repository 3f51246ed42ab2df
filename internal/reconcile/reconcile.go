// Package reconcile matches an unordered burst of duplex notifications
// against a set of expectations.
//
// Expectations are flags, not queue positions: messages are consumed in
// arrival order and each one either satisfies exactly one outstanding
// expectation, is discarded by a tolerance rule, or fails the run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/transport"
)

// Receiver yields inbound duplex messages one at a time.
type Receiver interface {
	Receive(ctx context.Context) (*transport.Message, error)
}

// Matcher claims a message for an expectation.
type Matcher func(msg *transport.Message) bool

// Checker validates a claimed message.
type Checker func(msg *transport.Message) error

// Expectation is one notification the set waits for.
type Expectation struct {
	name  string
	match Matcher
	check Checker
	after []string
	seen  bool
}

// After requires the named expectations to be satisfied first.
func (e *Expectation) After(names ...string) *Expectation {
	e.after = append(e.after, names...)
	return e
}

type tolerance struct {
	reason string
	pred   Matcher
}

// Set is a collection of expectations awaited together.
type Set struct {
	what         string
	expectations []*Expectation
	tolerances   []tolerance
}

// New creates an empty set. what names the awaited burst in failures.
func New(what string) *Set {
	return &Set{what: what}
}

// Expect adds an expectation. A nil check accepts any claimed message.
func (s *Set) Expect(name string, match Matcher, check Checker) *Expectation {
	e := &Expectation{name: name, match: match, check: check}
	s.expectations = append(s.expectations, e)
	return e
}

// Tolerate discards messages for which pred holds. Tolerance rules are
// consulted before any expectation.
func (s *Set) Tolerate(reason string, pred Matcher) {
	s.tolerances = append(s.tolerances, tolerance{reason: reason, pred: pred})
}

// Seen reports whether the named expectation has been satisfied.
func (s *Set) Seen(name string) bool {
	for _, e := range s.expectations {
		if e.name == name {
			return e.seen
		}
	}
	return false
}

// Missing lists the expectations not yet satisfied.
func (s *Set) Missing() []string {
	var names []string
	for _, e := range s.expectations {
		if !e.seen {
			names = append(names, e.name)
		}
	}
	return names
}

// Done reports whether every expectation has been satisfied.
func (s *Set) Done() bool {
	return len(s.Missing()) == 0
}

// Run consumes messages until every expectation is satisfied, a message
// fails, or timeout elapses.
func (s *Set) Run(ctx context.Context, rx Receiver, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for !s.Done() {
		msg, err := rx.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return check.Timeout(fmt.Sprintf("%s: still waiting for %s", s.what, strings.Join(s.Missing(), ", ")), timeout)
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return check.Transport("RECEIVE", s.what, err)
		}
		if err := s.Offer(msg); err != nil {
			return err
		}
	}
	return nil
}

// Drain offers every message that arrives within grace of the previous one.
// Call it after Run so that duplicates and stragglers of a completed burst
// fail the set instead of leaking into the next one.
func (s *Set) Drain(ctx context.Context, rx Receiver, grace time.Duration) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, grace)
		msg, err := rx.Receive(waitCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return check.Transport("RECEIVE", s.what, err)
		}
		if err := s.Offer(msg); err != nil {
			return err
		}
	}
}

// Offer consumes one message.
func (s *Set) Offer(msg *transport.Message) error {
	for _, t := range s.tolerances {
		if t.pred(msg) {
			logging.Debug("Skipping tolerated duplex message",
				zap.String("burst", s.what),
				zap.String("reason", t.reason),
				zap.ByteString("message", msg.Raw),
			)
			return nil
		}
	}

	var duplicate *Expectation
	for _, e := range s.expectations {
		if !e.match(msg) {
			continue
		}
		if e.seen {
			duplicate = e
			continue
		}
		for _, prev := range e.after {
			if !s.Seen(prev) {
				return check.Schemaf(e.name, "%s arrived before %s: %s", e.name, prev, msg)
			}
		}
		if e.check != nil {
			if err := e.check(msg); err != nil {
				return err
			}
		}
		e.seen = true
		return nil
	}

	if duplicate != nil {
		return check.Schemaf(duplicate.name, "received more than once: %s", msg)
	}
	return check.Schemaf(s.what, "unexpected %s message: %s", msg.Type, msg)
}

// Kind matches messages of one kind whose data names key. An empty key
// matches every message of the kind.
func Kind(kind, key string) Matcher {
	return func(msg *transport.Message) bool {
		if msg.Type != kind {
			return false
		}
		if key == "" {
			return true
		}
		_, ok := msg.Data[key]
		return ok
	}
}
