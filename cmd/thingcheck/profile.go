package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/webthings/thingcheck/internal/config"
	"github.com/webthings/thingcheck/internal/ui"
)

var assumeYes bool

func init() {
	profileDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Delete without asking for confirmation")

	profileCmd.AddCommand(profileSaveCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved connection profiles",
	Long: `Manage saved connection profiles.

A profile stores the target flags (protocol, host, port, path prefix,
flavor, skip flags and fixture) under a name, for use with --profile.
Authorization headers are never stored.`,
}

var profileSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Save the current target flags as a profile",
	Example: `  thingcheck profile save lamp --host 192.168.1.20 --path-prefix /things/lamp --flavor WoT
  thingcheck profile save lamp --profile lamp --skip-websocket`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileSave,
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved profiles",
	Args:    cobra.NoArgs,
	RunE:    runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileDeleteCmd = &cobra.Command{
	Use:     "delete NAME",
	Aliases: []string{"rm"},
	Short:   "Delete a saved profile",
	Args:    cobra.ExactArgs(1),
	RunE:    runProfileDelete,
}

func runProfileSave(cmd *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	name := args[0]
	t, err := resolveTarget(cmd)
	if err != nil {
		return err
	}

	p := &config.Profile{
		Protocol:          t.Transport.Protocol,
		Host:              t.Transport.Host,
		Port:              t.Transport.Port,
		PathPrefix:        t.Transport.PathPrefix,
		Flavor:            string(t.Dialect.Name()),
		SkipActionsEvents: t.SkipActionsEvents,
		SkipWebSocket:     t.SkipWebSocket,
		Fixture:           t.FixturePath,
	}
	if old, err := t.registry.Profile(name); err == nil {
		p.LastRun = old.LastRun
		p.LastPassed = old.LastPassed
	}
	if err := t.registry.SetProfile(name, p); err != nil {
		return err
	}
	if err := t.registry.Save(t.registryPath); err != nil {
		return err
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintSuccess("Profile saved", append([]ui.Param{{Key: "Name", Value: name}}, profileDetails(p)...))
	if t.Transport.AuthHeader != "" {
		printer.Println(ui.StepNoteStyle.Render("The authorization header was not saved; pass --auth-header on each run."))
	}
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	registry, path, err := config.LoadDefault()
	if err != nil {
		return err
	}
	printer := ui.NewPrinter(cmd.OutOrStdout())

	names := registry.ProfileNames()
	if len(names) == 0 {
		printer.PrintWarning("No profiles saved", []ui.Param{
			{Key: "Config", Value: path},
			{Key: "Hint", Value: "thingcheck profile save NAME --host ... --port ..."},
		})
		return nil
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		p := registry.Profiles[name]
		rows = append(rows, []string{name, p.Transport().BaseURL() + p.PathPrefix, p.Flavor, lastRun(p)})
	}
	printer.PrintTable([]string{"Name", "Target", "Flavor", "Last run"}, rows)
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	registry, _, err := config.LoadDefault()
	if err != nil {
		return err
	}
	p, err := registry.Profile(args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return jsonOut(cmd, p)
	}
	data, err := yaml.Marshal(map[string]*config.Profile{args[0]: p})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Profile "+args[0], "thingcheck profile show", profileDetails(p))
	printer.Newline()
	printer.Println(string(data))
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	registry, path, err := config.LoadDefault()
	if err != nil {
		return err
	}
	p, err := registry.Profile(name)
	if err != nil {
		return err
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if !assumeYes {
		warnings := []string{
			"Profile " + strconv.Quote(name) + " (" + p.Transport().BaseURL() + p.PathPrefix + ") will be removed",
			"Its last run result is lost",
		}
		if !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete profile", warnings, name) {
			return nil
		}
	}

	if err := registry.DeleteProfile(name); err != nil {
		return err
	}
	if err := registry.Save(path); err != nil {
		return err
	}
	printer.PrintSuccess("Profile deleted", []ui.Param{{Key: "Name", Value: name}})
	return nil
}

func profileDetails(p *config.Profile) []ui.Param {
	details := []ui.Param{
		{Key: "Target", Value: p.Transport().BaseURL() + p.PathPrefix},
		{Key: "Flavor", Value: p.Flavor},
	}
	if p.Fixture != "" {
		details = append(details, ui.Param{Key: "Fixture", Value: p.Fixture})
	}
	if p.SkipActionsEvents {
		details = append(details, ui.Param{Key: "Skip", Value: "actions/events"})
	}
	if p.SkipWebSocket {
		details = append(details, ui.Param{Key: "Skip", Value: "websocket"})
	}
	details = append(details, ui.Param{Key: "Last run", Value: lastRun(p)})
	return details
}

func lastRun(p *config.Profile) string {
	if p.LastRun.IsZero() {
		return "never"
	}
	outcome := "failed"
	if p.LastPassed {
		outcome = "passed"
	}
	return p.LastRun.Local().Format("2006-01-02 15:04") + " (" + outcome + ")"
}
