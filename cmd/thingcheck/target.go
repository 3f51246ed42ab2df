package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/action"
	"github.com/webthings/thingcheck/internal/config"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/discovery"
	"github.com/webthings/thingcheck/internal/fixture"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/transport"
)

// Target flags, shared by every command that talks to a thing
var (
	protocol          string
	host              string
	port              int
	pathPrefix        string
	authHeader        string
	flavor            string
	skipActionsEvents bool
	skipWebSocket     bool
	fixturePath       string
	profileName       string

	debug          bool
	logLevel       string
	outputFormat   string
	requestTimeout time.Duration
	pollInterval   time.Duration
	pollTimeout    time.Duration
	receiveTimeout time.Duration
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&protocol, "protocol", "http", "Protocol to use (http, https)")
	flags.StringVar(&host, "host", "", "Hostname or IP of the thing (default: this machine's outbound IP)")
	flags.IntVar(&port, "port", 8888, "Port of the thing")
	flags.StringVar(&pathPrefix, "path-prefix", "", "Path where the thing description is served (e.g. /things/lamp)")
	flags.StringVar(&authHeader, "auth-header", "", "Authorization header value, e.g. \"Bearer <token>\" (never stored)")
	flags.StringVar(&flavor, "flavor", "", "Schema dialect (Webthings, WoT; default from preferences)")
	flags.BoolVar(&skipActionsEvents, "skip-actions-events", false, "Skip action and event checks")
	flags.BoolVar(&skipWebSocket, "skip-websocket", false, "Skip duplex channel checks")
	flags.StringVar(&fixturePath, "fixture", "", "Capability fixture YAML (default: built-in lamp)")
	flags.StringVar(&profileName, "profile", "", "Load target settings from a saved profile")

	flags.BoolVar(&debug, "debug", false, "Trace every request and duplex message (same as --log-level debug)")
	flags.StringVar(&logLevel, "log-level", "", "Log level written to stderr (debug, info, warn, error)")
	flags.StringVar(&outputFormat, "format", "text", "Report format (text, json)")
	flags.DurationVar(&requestTimeout, "request-timeout", 0, "HTTP request timeout (default from preferences)")
	flags.DurationVar(&pollInterval, "poll-interval", 0, "Initial action poll interval (default from preferences)")
	flags.DurationVar(&pollTimeout, "poll-timeout", 0, "Overall action completion timeout (default from preferences)")
	flags.DurationVar(&receiveTimeout, "receive-timeout", 0, "Bound on each wait for duplex notifications (default from preferences)")
}

// target is the resolved set of settings for one thing.
type target struct {
	Transport         transport.Config
	Dialect           *dialect.Dialect
	Fixture           *fixture.Fixture
	FixturePath       string
	SkipActionsEvents bool
	SkipWebSocket     bool
	Poll              action.PollOptions
	ReceiveTimeout    time.Duration

	registry     *config.Registry
	registryPath string
}

// URL returns the address of the thing description.
func (t *target) URL() string {
	return t.Transport.BaseURL() + t.Transport.PathPrefix
}

func initLogging() error {
	level := logLevel
	if debug {
		level = "debug"
	}
	return logging.Initialize(level)
}

// resolveTarget merges, in increasing precedence, the built-in defaults,
// the stored preferences, the selected profile and explicit flags.
func resolveTarget(cmd *cobra.Command) (*target, error) {
	registry, path, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	prefs := registry.Preferences
	changed := cmd.Flags().Changed

	t := &target{
		Transport: transport.Config{
			Protocol:   protocol,
			Host:       host,
			Port:       port,
			PathPrefix: pathPrefix,
			AuthHeader: authHeader,
			Timeout:    prefs.RequestTimeout,
		},
		FixturePath:       fixturePath,
		SkipActionsEvents: skipActionsEvents,
		SkipWebSocket:     skipWebSocket,
		Poll:              action.DefaultPollOptions(),
		ReceiveTimeout:    prefs.ReceiveTimeout,
		registry:          registry,
		registryPath:      path,
	}
	t.Poll.Interval = prefs.PollInterval
	t.Poll.Timeout = prefs.PollTimeout
	name := prefs.DefaultFlavor

	if profileName != "" {
		p, err := registry.Profile(profileName)
		if err != nil {
			return nil, err
		}
		logging.Debug("Using profile", zap.String("profile", profileName))
		if !changed("protocol") {
			t.Transport.Protocol = p.Protocol
		}
		if !changed("host") {
			t.Transport.Host = p.Host
		}
		if !changed("port") {
			t.Transport.Port = p.Port
		}
		if !changed("path-prefix") {
			t.Transport.PathPrefix = p.PathPrefix
		}
		if p.Flavor != "" {
			name = p.Flavor
		}
		if !changed("skip-actions-events") {
			t.SkipActionsEvents = p.SkipActionsEvents
		}
		if !changed("skip-websocket") {
			t.SkipWebSocket = p.SkipWebSocket
		}
		if !changed("fixture") {
			t.FixturePath = p.Fixture
		}
	}

	if changed("flavor") {
		name = flavor
	}
	if t.Transport.Host == "" {
		t.Transport.Host = discovery.LocalIP()
	}
	if requestTimeout > 0 {
		t.Transport.Timeout = requestTimeout
	}
	if pollInterval > 0 {
		t.Poll.Interval = pollInterval
	}
	if pollTimeout > 0 {
		t.Poll.Timeout = pollTimeout
	}
	if receiveTimeout > 0 {
		t.ReceiveTimeout = receiveTimeout
	}
	if t.Poll.MaxInterval < t.Poll.Interval {
		t.Poll.MaxInterval = t.Poll.Interval
	}

	if err := t.Transport.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	if t.Dialect, err = dialect.Parse(name); err != nil {
		return nil, err
	}

	if t.FixturePath != "" {
		if t.Fixture, err = fixture.Load(t.FixturePath); err != nil {
			return nil, err
		}
	} else {
		t.Fixture = fixture.Default()
	}
	return t, nil
}
