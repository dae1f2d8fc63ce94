// Package ui renders the styled terminal output of the flexgate CLI.
//
// The components follow a "run once and exit" pattern. They are printed
// once, in order, and never wait for input (Confirm is the one exception).
//
//   - Header: command banner with its parameters
//   - Progress: progress bar and step list
//   - Result: success, warning or failure box
//   - Transcript: what a command sent and received, for verbose mode
//
// A Runner ties them together for multi-step commands such as probe:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "Probe",
//	    Command:   "flexgate probe 127.0.0.1:8080",
//	    StepNames: []string{"HTTP GET", "WebSocket echo"},
//	})
//	details, err := runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback, t *ui.Transcript) ([]ui.Param, error) {
//	    onStep(1, ui.StepRunning, "")
//	    // ...
//	    onStep(1, ui.StepComplete, "3ms")
//	    return nil, nil
//	})
//
// # Logging Integration
//
// Logging is controlled by the FLEXGATE_LOG_LEVEL environment variable. When
// it is unset zap stays silent so only the curated output is shown.
package ui
