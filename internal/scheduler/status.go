package scheduler

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a task node within one run.
type Status string

// Task node states.
const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusRunning Status = "running"
	StatusCached  Status = "cached"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further transition can happen.
func (status Status) Terminal() bool {
	switch status {
	case StatusCached, StatusSuccess, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Succeeded reports whether dependents may start.
func (status Status) Succeeded() bool {
	return status == StatusCached || status == StatusSuccess
}

// OutputLogsMode controls how task output reaches the terminal.
type OutputLogsMode string

// Output log modes.
const (
	OutputLogsFull       OutputLogsMode = "full"
	OutputLogsNewOnly    OutputLogsMode = "new-only"
	OutputLogsHashOnly   OutputLogsMode = "hash-only"
	OutputLogsErrorsOnly OutputLogsMode = "errors-only"
	OutputLogsNone       OutputLogsMode = "none"
)

const unsupportedOutputLogsTemplate = "unsupported output logs mode %q (expected one of %s)"

var outputLogsModes = []OutputLogsMode{OutputLogsFull, OutputLogsNewOnly, OutputLogsHashOnly, OutputLogsErrorsOnly, OutputLogsNone}

// ParseOutputLogsMode validates a mode name. An empty value selects full output.
func ParseOutputLogsMode(raw string) (OutputLogsMode, error) {
	normalized := OutputLogsMode(strings.ToLower(strings.TrimSpace(raw)))
	if len(normalized) == 0 {
		return OutputLogsFull, nil
	}
	for _, mode := range outputLogsModes {
		if mode == normalized {
			return mode, nil
		}
	}
	names := make([]string, 0, len(outputLogsModes))
	for _, mode := range outputLogsModes {
		names = append(names, string(mode))
	}
	return "", fmt.Errorf(unsupportedOutputLogsTemplate, raw, strings.Join(names, ", "))
}

func (mode OutputLogsMode) streamsExecution() bool {
	return mode == OutputLogsFull || mode == OutputLogsNewOnly
}

func (mode OutputLogsMode) replaysCachedLogs() bool {
	return mode == OutputLogsFull
}

func (mode OutputLogsMode) printsBanner() bool {
	return mode == OutputLogsFull || mode == OutputLogsNewOnly || mode == OutputLogsHashOnly
}
