package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/transport"
)

// CurrentVersion is the registry format written by this build.
const CurrentVersion = 1

// ErrProfileNotFound is returned when a named profile does not exist.
var ErrProfileNotFound = errors.New("profile not found")

var profileName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Registry represents the entire user configuration file.
type Registry struct {
	Version     int                 `yaml:"version"`
	Profiles    map[string]*Profile `yaml:"profiles,omitempty"` // Keyed by profile name
	Preferences *Preferences        `yaml:"preferences,omitempty"`
}

// Profile is a saved target: where the thing lives and how to check it.
// Authorization headers are never stored; pass --auth-header on each run.
type Profile struct {
	Protocol          string `yaml:"protocol" json:"protocol"`
	Host              string `yaml:"host" json:"host"`
	Port              int    `yaml:"port" json:"port"`
	PathPrefix        string `yaml:"path_prefix,omitempty" json:"pathPrefix,omitempty"`
	Flavor            string `yaml:"flavor,omitempty" json:"flavor,omitempty"`
	SkipActionsEvents bool   `yaml:"skip_actions_events,omitempty" json:"skipActionsEvents,omitempty"`
	SkipWebSocket     bool   `yaml:"skip_websocket,omitempty" json:"skipWebsocket,omitempty"`
	Fixture           string `yaml:"fixture,omitempty" json:"fixture,omitempty"` // Path to a capability fixture

	LastRun    time.Time `yaml:"last_run,omitempty" json:"lastRun,omitempty"`
	LastPassed bool      `yaml:"last_passed,omitempty" json:"lastPassed,omitempty"`
}

// Preferences represents application-wide defaults.
type Preferences struct {
	DefaultFlavor  string        `yaml:"default_flavor"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
}

// DefaultPreferences returns the built-in defaults.
func DefaultPreferences() *Preferences {
	return &Preferences{
		DefaultFlavor:  string(dialect.Webthings),
		RequestTimeout: 10 * time.Second,
		PollInterval:   100 * time.Millisecond,
		PollTimeout:    10 * time.Second,
		ReceiveTimeout: 10 * time.Second,
		ScanTimeout:    5 * time.Second,
	}
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     CurrentVersion,
		Profiles:    make(map[string]*Profile),
		Preferences: DefaultPreferences(),
	}
}

// Profile returns the named profile.
func (r *Registry) Profile(name string) (*Profile, error) {
	p, ok := r.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

// SetProfile validates p and stores it under name, replacing any previous
// profile of that name.
func (r *Registry) SetProfile(name string, p *Profile) error {
	if !profileName.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: use letters, digits, '.', '_' or '-'", name)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	if r.Profiles == nil {
		r.Profiles = make(map[string]*Profile)
	}
	r.Profiles[name] = p
	return nil
}

// DeleteProfile removes the named profile.
func (r *Registry) DeleteProfile(name string) error {
	if _, ok := r.Profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	delete(r.Profiles, name)
	return nil
}

// ProfileNames returns the profile names in sorted order.
func (r *Registry) ProfileNames() []string {
	names := make([]string, 0, len(r.Profiles))
	for name := range r.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordRun stores the outcome of the latest run against the named profile.
func (r *Registry) RecordRun(name string, passed bool, at time.Time) error {
	p, err := r.Profile(name)
	if err != nil {
		return err
	}
	p.LastRun = at
	p.LastPassed = passed
	return nil
}

// Validate checks the profile's target and flavor.
func (p *Profile) Validate() error {
	if err := p.Transport().Validate(); err != nil {
		return err
	}
	if p.Flavor != "" {
		if _, err := dialect.Parse(p.Flavor); err != nil {
			return err
		}
	}
	return nil
}

// Transport returns the connection settings of the profile. The
// authorization header is always empty.
func (p *Profile) Transport() transport.Config {
	return transport.Config{
		Protocol:   p.Protocol,
		Host:       p.Host,
		Port:       p.Port,
		PathPrefix: p.PathPrefix,
	}
}
