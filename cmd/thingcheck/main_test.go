package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/webthings/thingcheck/internal/config"
	"github.com/webthings/thingcheck/internal/dialect"
	"github.com/webthings/thingcheck/internal/thingtest"
)

// execute runs the CLI with fresh flag state and an isolated config dir.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	setContext(rootCmd, ctx)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// setContext replaces the context every command kept from an earlier run.
// Cobra only hands the root context to subcommands that have none.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("THINGCHECK_LOG_LEVEL", "")
	return filepath.Join(dir, "thingcheck", "config.yaml")
}

func startLamp(t *testing.T, opts thingtest.Options) []string {
	t.Helper()
	if opts.Dialect == nil {
		opts.Dialect = dialect.MustParse("Webthings")
	}
	lamp := thingtest.New(opts)
	t.Cleanup(lamp.Close)

	cfg := lamp.Config()
	args := []string{
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--flavor", string(opts.Dialect.Name()),
		"--poll-interval", "5ms",
		"--receive-timeout", "2s",
	}
	if cfg.PathPrefix != "" {
		args = append(args, "--path-prefix", cfg.PathPrefix)
	}
	return args
}

func TestRunJSONReport(t *testing.T) {
	isolate(t)
	target := startLamp(t, thingtest.Options{})

	out, err := execute(t, "", append([]string{"run", "--format", "json"}, target...)...)
	require.NoError(t, err, out)

	require.True(t, gjson.Valid(out), out)
	report := gjson.Parse(out)
	assert.True(t, report.Get("passed").Bool())
	assert.Equal(t, "Webthings", report.Get("flavor").String())
	assert.Equal(t, "urn:dev:ops:my-lamp-1234", report.Get("thing.id").String())
	assert.False(t, report.Get("failure").Exists())
	for _, step := range report.Get("steps").Array() {
		assert.Equal(t, "passed", step.Get("status").String(), step.Get("name").String())
	}
}

func TestRunTextReport(t *testing.T) {
	isolate(t)
	target := startLamp(t, thingtest.Options{
		Dialect:    dialect.MustParse("WoT"),
		PathPrefix: "/things/lamp",
	})

	out, err := execute(t, "", target...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Web Thing Conformance")
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "Fetch and validate description")
}

func TestRunFailure(t *testing.T) {
	isolate(t)
	target := startLamp(t, thingtest.Options{WriteOffset: 1})

	out, err := execute(t, "", append([]string{"run", "--format", "json"}, target...)...)
	require.ErrorIs(t, err, errFailed)

	report := gjson.Parse(out)
	assert.False(t, report.Get("passed").Bool())
	assert.Equal(t, "Write property over HTTP", report.Get("failure.step").String())
	assert.Equal(t, "not run", report.Get("steps.4.status").String())
}

func TestRunRejectsBadFormat(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "run", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestRunRejectsBadFlavor(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "run", "--host", "127.0.0.1", "--flavor", "Zigbee")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dialect")
}

func TestDescribe(t *testing.T) {
	isolate(t)
	target := startLamp(t, thingtest.Options{})

	out, err := execute(t, "", append([]string{"describe", "--format", "json"}, target...)...)
	require.NoError(t, err, out)
	doc := gjson.Parse(out)
	assert.True(t, doc.Get("valid").Bool())
	assert.Equal(t, "My Lamp", doc.Get("description.title").String())
	assert.True(t, strings.HasPrefix(doc.Get("duplexHref").String(), "ws://"))

	out, err = execute(t, "", append([]string{"describe"}, target...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "brightness")
	assert.Contains(t, out, "0..100")
	assert.Contains(t, out, "overheated")
	assert.Contains(t, out, "Description valid")
}

func TestDescribeInvalid(t *testing.T) {
	isolate(t)
	target := startLamp(t, thingtest.Options{
		Mutate: func(td map[string]any) { td["title"] = "Not My Lamp" },
	})

	out, err := execute(t, "", append([]string{"describe"}, target...)...)
	require.ErrorIs(t, err, errFailed)
	assert.Contains(t, out, "Description invalid")
}

func TestProfileLifecycle(t *testing.T) {
	path := isolate(t)
	target := startLamp(t, thingtest.Options{})

	out, err := execute(t, "", append([]string{"profile", "save", "lamp", "--auth-header", "Bearer secret"}, target...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Profile saved")
	assert.Contains(t, out, "was not saved")

	registry, err := config.Load(path)
	require.NoError(t, err)
	p, err := registry.Profile("lamp")
	require.NoError(t, err)
	assert.Equal(t, "Webthings", p.Flavor)
	assert.True(t, p.LastRun.IsZero())

	out, err = execute(t, "", "run", "--profile", "lamp", "--format", "json", "--poll-interval", "5ms")
	require.NoError(t, err, out)
	registry, err = config.Load(path)
	require.NoError(t, err)
	p, _ = registry.Profile("lamp")
	assert.False(t, p.LastRun.IsZero())
	assert.True(t, p.LastPassed)

	out, err = execute(t, "", "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "lamp")
	assert.Contains(t, out, "passed")

	out, err = execute(t, "", "profile", "show", "lamp", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, p.Host, gjson.Get(out, "host").String())
	assert.NotContains(t, out, "secret")

	out, err = execute(t, "nope\n", "profile", "delete", "lamp")
	require.NoError(t, err)
	assert.Contains(t, out, "Operation cancelled")
	registry, _ = config.Load(path)
	assert.Len(t, registry.Profiles, 1)

	out, err = execute(t, "lamp\n", "profile", "delete", "lamp")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile deleted")

	_, err = execute(t, "", "profile", "show", "lamp")
	assert.ErrorIs(t, err, config.ErrProfileNotFound)
}

func TestProfileListEmpty(t *testing.T) {
	isolate(t)
	out, err := execute(t, "", "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles saved")
}

func TestRepeatedRunsGetFreshContext(t *testing.T) {
	isolate(t)
	target := startLamp(t, thingtest.Options{})

	for range 2 {
		out, err := execute(t, "", append([]string{"describe", "--format", "json"}, target...)...)
		require.NoError(t, err, out)
		assert.True(t, gjson.Get(out, "valid").Bool())
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "thingcheck "))
}
