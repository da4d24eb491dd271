package execshell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

const (
	shellExecutableConstant   = "sh"
	shellCommandFlagConstant  = "-c"
	defaultTerminationTimeout = 10 * time.Second
)

// ProcessRunner runs task scripts through sh -c in their package directory.
// On cancellation the whole process group receives SIGTERM and is killed after the grace period.
type ProcessRunner struct {
	TerminationGracePeriod time.Duration
	BaseEnvironment        func() []string
}

// NewProcessRunner constructs a ProcessRunner inheriting the current process environment.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{TerminationGracePeriod: defaultTerminationTimeout, BaseEnvironment: os.Environ}
}

// Run executes the command and waits for it to exit.
func (runner *ProcessRunner) Run(executionContext context.Context, command TaskCommand, output io.Writer) (ExecutionResult, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return ExecutionResult{}, contextError
	}

	if output == nil {
		output = io.Discard
	}

	process := exec.CommandContext(executionContext, shellExecutableConstant, shellCommandFlagConstant, command.Script)
	process.Dir = command.WorkingDirectory
	process.Env = runner.environment(command.EnvironmentVariables)
	configureProcessGroup(process)
	process.WaitDelay = runner.gracePeriod()

	var captured bytes.Buffer
	combined := &synchronizedWriter{writer: io.MultiWriter(&captured, output)}
	process.Stdout = combined
	process.Stderr = combined

	startedAt := time.Now()
	runError := process.Run()
	result := ExecutionResult{Output: captured.Bytes(), Duration: time.Since(startedAt)}

	if contextError := executionContext.Err(); contextError != nil {
		result.ExitCode = -1
		return result, contextError
	}
	if runError != nil {
		var exitError *exec.ExitError
		if errors.As(runError, &exitError) {
			result.ExitCode = exitError.ExitCode()
			return result, nil
		}
		return result, runError
	}
	return result, nil
}

func (runner *ProcessRunner) gracePeriod() time.Duration {
	if runner.TerminationGracePeriod <= 0 {
		return defaultTerminationTimeout
	}
	return runner.TerminationGracePeriod
}

func (runner *ProcessRunner) environment(overrides map[string]string) []string {
	var base []string
	if runner.BaseEnvironment != nil {
		base = runner.BaseEnvironment()
	}
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	environment := make([]string, 0, len(base)+len(keys))
	environment = append(environment, base...)
	for _, key := range keys {
		environment = append(environment, key+"="+overrides[key])
	}
	return environment
}

// synchronizedWriter serializes writes from the stdout and stderr copiers.
type synchronizedWriter struct {
	mutex  sync.Mutex
	writer io.Writer
}

func (writer *synchronizedWriter) Write(content []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.writer.Write(content)
}
