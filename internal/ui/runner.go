package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// RunnerConfig describes a multi-step command.
type RunnerConfig struct {
	Title           string    // e.g., "Probe"
	Command         string    // e.g., "flexgate probe 127.0.0.1:8080"
	Params          []Param   // shown in the header
	StepNames       []string  // one per step
	Verbose         bool      // print the transcript after the result
	Output          io.Writer // default: os.Stdout
	Troubleshooting []string  // shown when the operation fails
}

// Operation is the work a Runner drives. It reports steps through onStep
// and returns details for the success box.
type Operation func(ctx context.Context, onStep StepCallback, transcript *Transcript) ([]Param, error)

// Runner prints a header, live step lines and a result box around an
// Operation.
type Runner struct {
	config     RunnerConfig
	header     *Header
	progress   *Progress
	transcript *Transcript
	output     io.Writer
	width      int

	mu sync.Mutex
}

// NewRunner creates a runner for the given command.
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	r := &Runner{
		config:     config,
		header:     NewHeader(config.Title, config.Command, config.Params...).SetWidth(width),
		transcript: NewTranscript(config.Title + " transcript"),
		output:     config.Output,
		width:      width,
	}
	if len(config.StepNames) > 0 {
		r.progress = NewProgress("", config.StepNames...).SetWidth(width)
	}
	return r
}

// Progress returns the step tracker, nil when the command has no steps.
func (r *Runner) Progress() *Progress {
	return r.progress
}

// Run executes op and prints the result. The returned details include the
// total duration.
func (r *Runner) Run(ctx context.Context, op Operation) ([]Param, error) {
	start := time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	details, err := op(ctx, r.onStep, r.transcript)
	duration := time.Since(start).Round(time.Millisecond)

	_, _ = fmt.Fprintln(r.output)
	var result *Result
	if err != nil {
		result = NewFailureResult(r.config.Title+" failed", err, r.config.Troubleshooting...)
	} else {
		details = append(details, Param{Key: "Duration", Value: duration.String()})
		result = NewSuccessResult(r.config.Title+" complete", details...)
	}
	_, _ = fmt.Fprintln(r.output, result.SetWidth(r.width).Render())

	if r.config.Verbose && r.transcript.Len() > 0 {
		_, _ = fmt.Fprintln(r.output)
		_, _ = fmt.Fprintln(r.output, r.transcript.Render(r.width))
	}
	return details, err
}

func (r *Runner) onStep(stepNumber int, status StepStatus, message string) {
	if r.progress == nil || stepNumber < 1 || stepNumber > len(r.progress.Steps) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress.UpdateStep(stepNumber, status, message)
	line := r.progress.renderStepLine(r.progress.Steps[stepNumber-1])
	switch status {
	case StepRunning:
		// Overwritten by the final state of the step.
		_, _ = fmt.Fprint(r.output, line+"\r")
	default:
		_, _ = fmt.Fprintln(r.output, line)
	}
}
