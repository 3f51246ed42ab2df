// Thingcheck is a conformance checker for Web Thing servers.
//
// It drives one thing through a fixed scenario over HTTP and the WebSocket
// duplex channel: it validates the thing description, reads and writes
// properties, invokes an action and follows it to completion, and
// reconciles the notifications and events the thing pushes. The first
// failed check stops the run and the process exits with status 1.
//
// Usage:
//
//	thingcheck [command] [flags]
//
// Running without a command executes the scenario.
// See 'thingcheck --help' for available commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webthings/thingcheck/internal/logging"
	"github.com/webthings/thingcheck/internal/urls"
	"github.com/webthings/thingcheck/internal/version"
)

// errFailed reports a completed run that found the thing non-conforming.
// The report has already been printed.
var errFailed = errors.New("thing does not conform")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()

	if err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "thingcheck",
	Short: "Web Thing conformance checker",
	Long: `Check that a Web Thing server conforms to the Web Thing API.

The thing is expected to implement the lamp capability fixture (or the one
given with --fixture). Every step must pass; the first failure ends the run.

Dialects:
  Webthings  ` + urls.WebThingAPI + `
  WoT        ` + urls.WoTThingDescription + `

If no command is specified, the scenario runs against the target.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: `  # Check a thing on this machine
  thingcheck --port 8888

  # Check a WoT thing served under a prefix, with authorization
  thingcheck --host 192.168.1.20 --path-prefix /things/lamp --flavor WoT \
    --auth-header "Bearer eyJhbGciOi..."

  # Machine-readable report
  thingcheck --profile lamp --format json`,
	RunE: runRun,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "thingcheck %s\n", version.Full())
	},
}
