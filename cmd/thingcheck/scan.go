package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/config"
	"github.com/webthings/thingcheck/internal/discovery"
	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/ui"
)

var scanTimeout time.Duration

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "How long to listen for announcements (default from preferences)")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover web things on the local network",
	Long: `Discover web things announced over mDNS (` + discovery.ServiceType + `).

Each result can be checked with --host, --port and --path-prefix, or saved
with 'thingcheck profile save'.`,
	Example: `  thingcheck scan
  thingcheck scan --timeout 10s --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if err := checkFormat(); err != nil {
		return err
	}

	timeout := scanTimeout
	if timeout <= 0 {
		registry, _, err := config.LoadDefault()
		if err != nil {
			return err
		}
		timeout = registry.Preferences.ScanTimeout
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if outputFormat == "text" {
		p.PrintHeader("Web Thing Discovery", "thingcheck scan", []ui.Param{
			{Key: "Service", Value: discovery.ServiceType},
			{Key: "Timeout", Value: timeout.String()},
		})
		p.Newline()
	}

	things, err := discovery.ScanForThings(cmd.Context(), timeout)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	logging.Debug("Scan finished", zap.Int("things", len(things)))

	if outputFormat == "json" {
		if things == nil {
			things = []*discovery.Thing{}
		}
		return jsonOut(cmd, things)
	}

	if len(things) == 0 {
		p.PrintWarning("No things found", []ui.Param{
			{Key: "Hint", Value: "check the thing advertises " + discovery.ServiceType + " on this network"},
		})
		return nil
	}

	rows := make([][]string, 0, len(things))
	for _, t := range things {
		rows = append(rows, []string{t.Instance, t.Hostname, t.IP, strconv.Itoa(t.Port), t.Path, t.URL()})
	}
	p.PrintTable([]string{"Name", "Host", "IP", "Port", "Path", "URL"}, rows)
	p.Newline()
	p.Println(fmt.Sprintf("Found %d thing(s)", len(things)))
	return nil
}
