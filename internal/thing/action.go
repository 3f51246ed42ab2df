package thing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionStatus is the lifecycle state of an action instance.
// Statuses only ever advance: created -> pending -> completed.
type ActionStatus int

const (
	// StatusUnknown is the zero value, before any observation.
	StatusUnknown ActionStatus = iota
	// StatusCreated is reported when the invocation has been accepted.
	StatusCreated
	// StatusPending is reported while the device executes the action.
	StatusPending
	// StatusCompleted is terminal.
	StatusCompleted
)

// String returns the wire name of the status.
func (s ActionStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseActionStatus converts a wire status name.
func ParseActionStatus(s string) (ActionStatus, error) {
	switch strings.TrimSpace(s) {
	case "created":
		return StatusCreated, nil
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown action status %q", s)
	}
}

// CanAdvanceTo reports whether moving from s to next is a legal transition.
// Skipping states is legal (a poller may never see pending); staying or
// regressing is not.
func (s ActionStatus) CanAdvanceTo(next ActionStatus) bool {
	return next > s && next <= StatusCompleted
}

// Terminal reports whether no further transitions are possible.
func (s ActionStatus) Terminal() bool {
	return s == StatusCompleted
}

// MarshalJSON encodes the status by name.
func (s ActionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the status by name.
func (s *ActionStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseActionStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ActionInstance mirrors one invocation. The device owns it; the oracle only
// observes it through either transport.
type ActionInstance struct {
	Name          string         `json:"-"`
	ID            string         `json:"-"`
	Href          string         `json:"href"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Status        ActionStatus   `json:"status"`
	TimeRequested string         `json:"timeRequested,omitempty"`
	TimeEnded     string         `json:"timeEnded,omitempty"`

	// EndedField records which key carried the end timestamp.
	EndedField string `json:"-"`
}

// instanceWire is the superset of keys seen on the wire.
type instanceWire struct {
	Href          string         `json:"href"`
	Input         map[string]any `json:"input"`
	Output        map[string]any `json:"output"`
	Status        string         `json:"status"`
	TimeRequested string         `json:"timeRequested"`
	TimeEnded     string         `json:"timeEnded"`
	TimeCompleted string         `json:"timeCompleted"`
}

// DecodeActionInstance converts a decoded JSON object into an instance of the
// named action. Either end timestamp key is accepted.
func DecodeActionInstance(name string, v any) (*ActionInstance, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var w instanceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("action instance is not an object: %w", err)
	}
	status, err := ParseActionStatus(w.Status)
	if err != nil {
		return nil, err
	}

	inst := &ActionInstance{
		Name:          name,
		ID:            IDFromHref(w.Href),
		Href:          w.Href,
		Input:         w.Input,
		Output:        w.Output,
		Status:        status,
		TimeRequested: w.TimeRequested,
	}
	switch {
	case w.TimeEnded != "":
		inst.TimeEnded, inst.EndedField = w.TimeEnded, "timeEnded"
	case w.TimeCompleted != "":
		inst.TimeEnded, inst.EndedField = w.TimeCompleted, "timeCompleted"
	}
	return inst, nil
}

// IDFromHref derives the opaque instance identifier from its resource link.
func IDFromHref(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}
