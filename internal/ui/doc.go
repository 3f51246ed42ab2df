// Package ui renders thingcheck's terminal output.
//
// A conformance run prints a header naming the target, one line per step
// and a closing result box. On an interactive terminal the step list is
// animated with Bubble Tea while the run executes; otherwise each step is
// printed once it finishes, which keeps logs and CI output readable.
//
// # Components
//
//   - Header: command banner with the target parameters
//   - Progress: progress bar and step list fed by scenario observer callbacks
//   - Result: pass, failure and warning boxes, failures with troubleshooting tips
//   - Report: the JSON form of a run for --format json
//
// Runner ties them together:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Web Thing Conformance",
//	    Command: "thingcheck run",
//	    Steps:   orchestrator.Steps(),
//	    Live:    ui.IsTerminal(os.Stdout),
//	})
//	result := runner.Run(ctx, func(ctx context.Context, obs scenario.Observer) *scenario.Result {
//	    orchestrator.Observe(obs)
//	    return orchestrator.Run(ctx)
//	})
//
// # Logging Integration
//
// zap logging goes to stderr and is silent unless THINGCHECK_LOG_LEVEL or
// --log-level enables it, so the curated output here stays clean.
package ui
