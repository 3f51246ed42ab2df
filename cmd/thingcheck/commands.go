package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/describe"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/scenario"
	"github.com/webthings/thingcheck/internal/thing"
	"github.com/webthings/thingcheck/internal/transport"
	"github.com/webthings/thingcheck/internal/ui"
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(describeCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the conformance scenario against a thing",
	Long: `Run the conformance scenario against a thing.

Steps run in a fixed order. The first failure stops the run, the remaining
steps are reported as not run and the process exits with status 1.`,
	Example: `  thingcheck run --host 192.168.1.20 --port 8888
  thingcheck run --profile lamp --skip-websocket`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Fetch, validate and summarize the thing description",
	Long: `Fetch the thing description, validate it against the capability fixture
and print a summary of its properties, actions and events.`,
	Example: `  thingcheck describe --host 192.168.1.20 --flavor WoT
  thingcheck describe --profile lamp --format json`,
	Args: cobra.NoArgs,
	RunE: runDescribe,
}

func checkFormat() error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("unknown format %q (valid: text, json)", outputFormat)
	}
	return nil
}

func jsonOut(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if err := checkFormat(); err != nil {
		return err
	}
	t, err := resolveTarget(cmd)
	if err != nil {
		return err
	}

	orch, err := scenario.New(scenario.Options{
		Transport:         t.Transport,
		Dialect:           t.Dialect,
		Fixture:           t.Fixture,
		SkipActionsEvents: t.SkipActionsEvents,
		SkipDuplex:        t.SkipWebSocket,
		Poll:              t.Poll,
		ReceiveTimeout:    t.ReceiveTimeout,
	}, nil)
	if err != nil {
		return err
	}

	logging.Info("Starting conformance run",
		zap.String("target", t.URL()),
		zap.String("flavor", string(t.Dialect.Name())),
		zap.Bool("skip_actions_events", t.SkipActionsEvents),
		zap.Bool("skip_websocket", t.SkipWebSocket),
	)

	out := cmd.OutOrStdout()
	var result *scenario.Result
	if outputFormat == "json" {
		result = orch.Run(cmd.Context())
		if err := ui.NewReport(t.URL(), string(t.Dialect.Name()), result).WriteJSON(out); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	} else {
		runner := ui.NewRunner(ui.RunnerConfig{
			Title:   "Web Thing Conformance",
			Command: cmd.CommandPath(),
			Params:  targetParams(t),
			Steps:   orch.Steps(),
			Live:    out == os.Stdout && ui.IsTerminal(os.Stdout) && !logging.Enabled(),
			Output:  out,
		})
		result = runner.Run(cmd.Context(), func(ctx context.Context, obs scenario.Observer) *scenario.Result {
			orch.Observe(obs)
			return orch.Run(ctx)
		})
	}

	logging.Info("Conformance run finished",
		zap.Bool("passed", result.Passed()),
		zap.Duration("duration", result.Duration),
	)

	if profileName != "" {
		recordRun(t, result.Passed())
	}
	if !result.Passed() {
		return errFailed
	}
	return nil
}

// recordRun stores the outcome on the selected profile. Failing to save is
// not a conformance failure, so it is only logged.
func recordRun(t *target, passed bool) {
	if err := t.registry.RecordRun(profileName, passed, time.Now()); err != nil {
		logging.Warn("Failed to record run", zap.String("profile", profileName), zap.Error(err))
		return
	}
	if err := t.registry.Save(t.registryPath); err != nil {
		logging.Warn("Failed to save config", zap.String("path", t.registryPath), zap.Error(err))
	}
}

func targetParams(t *target) []ui.Param {
	params := []ui.Param{
		{Key: "Target", Value: t.URL()},
		{Key: "Flavor", Value: string(t.Dialect.Name())},
	}
	if profileName != "" {
		params = append(params, ui.Param{Key: "Profile", Value: profileName})
	}
	if t.FixturePath != "" {
		params = append(params, ui.Param{Key: "Fixture", Value: t.FixturePath})
	}
	if t.Transport.AuthHeader != "" {
		params = append(params, ui.Param{Key: "Authorization", Value: "(set)"})
	}
	var skipped []string
	if t.SkipActionsEvents {
		skipped = append(skipped, "actions/events")
	}
	if t.SkipWebSocket {
		skipped = append(skipped, "websocket")
	}
	if len(skipped) > 0 {
		params = append(params, ui.Param{Key: "Skipping", Value: strings.Join(skipped, ", ")})
	}
	return params
}

func runDescribe(cmd *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if err := checkFormat(); err != nil {
		return err
	}
	t, err := resolveTarget(cmd)
	if err != nil {
		return err
	}

	validator, err := describe.New(t.Fixture, t.Dialect, describe.Options{
		PathPrefix:        t.Transport.PathPrefix,
		Protocol:          t.Transport.Protocol,
		SkipActionsEvents: t.SkipActionsEvents,
		SkipDuplex:        t.SkipWebSocket,
	})
	if err != nil {
		return err
	}

	client := transport.NewClient(t.Transport)
	resp, err := client.Do(cmd.Context(), http.MethodGet, "/", nil)
	if err != nil {
		return describeFailed(cmd, t, check.Transport(http.MethodGet, "/", err))
	}
	if err := check.Status(http.MethodGet, "/", http.StatusOK, resp.Status); err != nil {
		return describeFailed(cmd, t, err)
	}
	td, err := thing.ParseDescription(resp.Raw)
	if err != nil {
		return describeFailed(cmd, t, check.Schemaf("", "%v", err))
	}
	summary, verr := validator.Validate(resp.Raw)

	if outputFormat == "json" {
		out := struct {
			Target      string             `json:"target"`
			Flavor      string             `json:"flavor"`
			Valid       bool               `json:"valid"`
			Error       string             `json:"error,omitempty"`
			Duplex      string             `json:"duplexHref,omitempty"`
			Description *thing.Description `json:"description"`
		}{Target: t.URL(), Flavor: string(t.Dialect.Name()), Valid: verr == nil, Description: td}
		if verr != nil {
			out.Error = verr.Error()
		} else {
			out.Duplex = summary.DuplexHref
		}
		if err := jsonOut(cmd, out); err != nil {
			return fmt.Errorf("failed to write description: %w", err)
		}
		if verr != nil {
			return errFailed
		}
		return nil
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Thing Description", "thingcheck describe", targetParams(t))
	p.Newline()
	p.Println(ui.ResultKeyStyle.Render("ID:    ") + ui.ResultValueStyle.Render(td.ID))
	p.Println(ui.ResultKeyStyle.Render("Title: ") + ui.ResultValueStyle.Render(td.Title))
	if len(td.Types) > 0 {
		p.Println(ui.ResultKeyStyle.Render("Types: ") + ui.ResultValueStyle.Render(strings.Join(td.Types, ", ")))
	}
	p.Newline()
	p.PrintTable([]string{"Kind", "Name", "Type", "Unit", "Range"}, capabilityRows(td))
	p.Newline()

	if verr != nil {
		p.PrintError("Description invalid", verr, check.Troubleshooting(verr))
		return errFailed
	}
	details := []ui.Param{{Key: "Security", Value: td.SecurityName()}}
	if summary.DuplexHref != "" {
		details = append(details, ui.Param{Key: "Duplex", Value: summary.DuplexHref})
	}
	if summary.DocumentHref != "" {
		details = append(details, ui.Param{Key: "Document", Value: summary.DocumentHref})
	}
	p.PrintSuccess("Description valid", details)
	return nil
}

func describeFailed(cmd *cobra.Command, t *target, err error) error {
	if outputFormat == "json" {
		return err
	}
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Thing Description", "thingcheck describe", targetParams(t))
	p.Newline()
	p.PrintError("Could not fetch description", err, check.Troubleshooting(err))
	return errFailed
}

// capabilityRows lists properties, then actions, then events.
func capabilityRows(td *thing.Description) [][]string {
	var rows [][]string
	for _, name := range td.PropertyNames() {
		p := td.Properties[name]
		rows = append(rows, []string{"property", name, p.Type, p.Unit, valueRange(p.Minimum, p.Maximum)})
	}
	for _, name := range td.ActionNames() {
		a := td.Actions[name]
		var inputs []string
		if a.Input != nil {
			inputs = a.Input.Required
		}
		rows = append(rows, []string{"action", name, "object", "", strings.Join(inputs, ", ")})
	}
	for _, name := range td.EventNames() {
		e := td.Events[name]
		rows = append(rows, []string{"event", name, e.PayloadType(), e.PayloadUnit(), ""})
	}
	return rows
}

func valueRange(lo, hi *float64) string {
	format := func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
	if lo == nil && hi == nil {
		return ""
	}
	return format(lo) + ".." + format(hi)
}
