package execshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	loggerNotConfiguredMessageConstant        = "shell executor logger not configured"
	commandRunnerNotConfiguredMessageConstant = "shell executor command runner not configured"
	commandScriptMissingMessageConstant       = "task command script not provided"
	commandStartMessageConstant               = "task_command_started"
	commandSuccessMessageConstant             = "task_command_completed"
	commandFailureMessageConstant             = "task_command_failed"
	commandRunnerErrorMessageConstant         = "task_command_error"
	commandLabelFieldNameConstant             = "task"
	commandScriptFieldNameConstant            = "command"
	workingDirectoryFieldNameConstant         = "working_directory"
	exitCodeFieldNameConstant                 = "exit_code"
	durationFieldNameConstant                 = "duration"
	failureDetailLineLimitConstant            = 3
)

// TaskCommand describes one task script invocation.
type TaskCommand struct {
	Label                string
	Script               string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
}

// ExecutionResult captures observable command results.
type ExecutionResult struct {
	Output   []byte
	ExitCode int
	Duration time.Duration
}

// CommandRunner executes task commands, streaming combined output to the writer.
type CommandRunner interface {
	Run(executionContext context.Context, command TaskCommand, output io.Writer) (ExecutionResult, error)
}

// ShellExecutor orchestrates running task commands with logging.
type ShellExecutor struct {
	commandRunner CommandRunner
	logger        *zap.Logger
}

var (
	// ErrLoggerNotConfigured indicates the logger dependency was missing.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
	// ErrCommandRunnerNotConfigured indicates the command runner dependency was missing.
	ErrCommandRunnerNotConfigured = errors.New(commandRunnerNotConfiguredMessageConstant)
	// ErrCommandScriptMissing indicates the task has no command to run.
	ErrCommandScriptMissing = errors.New(commandScriptMissingMessageConstant)
)

// CommandFailedError provides details about commands exiting with a non-zero code.
type CommandFailedError struct {
	Command TaskCommand
	Result  ExecutionResult
}

const commandFailureErrorMessageTemplateConstant = "%s exited with code %d"

// Error describes the failure in a readable format.
func (commandError CommandFailedError) Error() string {
	baseMessage := fmt.Sprintf(commandFailureErrorMessageTemplateConstant, commandError.Command.Label, commandError.Result.ExitCode)

	detail := strings.TrimSpace(string(commandError.Result.Output))
	if len(detail) == 0 {
		return baseMessage
	}
	lines := strings.Split(detail, "\n")
	if len(lines) > failureDetailLineLimitConstant {
		lines = lines[len(lines)-failureDetailLineLimitConstant:]
	}
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) > 0 {
		baseMessage = fmt.Sprintf("%s: %s", baseMessage, strings.Join(normalized, " | "))
	}
	return baseMessage
}

// CommandExecutionError wraps unexpected execution failures from the runner, including cancellation.
type CommandExecutionError struct {
	Command TaskCommand
	Cause   error
}

const commandExecutionErrorMessageTemplateConstant = "%s command execution failed: %v"

// Error describes the underlying runner failure.
func (executionError CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionErrorMessageTemplateConstant, executionError.Command.Label, executionError.Cause)
}

// Unwrap exposes the underlying error.
func (executionError CommandExecutionError) Unwrap() error {
	return executionError.Cause
}

// NewShellExecutor builds an executor for the provided runner and logger.
func NewShellExecutor(logger *zap.Logger, commandRunner CommandRunner) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if commandRunner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	return &ShellExecutor{commandRunner: commandRunner, logger: logger}, nil
}

// Execute runs the task command and logs lifecycle events.
// The result is returned alongside CommandFailedError so callers keep the captured output.
func (executor *ShellExecutor) Execute(executionContext context.Context, command TaskCommand, output io.Writer) (ExecutionResult, error) {
	if len(strings.TrimSpace(command.Script)) == 0 {
		return ExecutionResult{}, ErrCommandScriptMissing
	}
	if output == nil {
		output = io.Discard
	}

	executor.logger.Debug(commandStartMessageConstant,
		zap.String(commandLabelFieldNameConstant, command.Label),
		zap.String(commandScriptFieldNameConstant, command.Script),
		zap.String(workingDirectoryFieldNameConstant, command.WorkingDirectory),
	)

	executionResult, runnerError := executor.commandRunner.Run(executionContext, command, output)
	if runnerError != nil {
		executor.logger.Error(commandRunnerErrorMessageConstant,
			zap.String(commandLabelFieldNameConstant, command.Label),
			zap.Error(runnerError),
		)
		return executionResult, CommandExecutionError{Command: command, Cause: runnerError}
	}

	if executionResult.ExitCode != 0 {
		executor.logger.Warn(commandFailureMessageConstant,
			zap.String(commandLabelFieldNameConstant, command.Label),
			zap.Int(exitCodeFieldNameConstant, executionResult.ExitCode),
			zap.Duration(durationFieldNameConstant, executionResult.Duration),
		)
		return executionResult, CommandFailedError{Command: command, Result: executionResult}
	}

	executor.logger.Debug(commandSuccessMessageConstant,
		zap.String(commandLabelFieldNameConstant, command.Label),
		zap.Duration(durationFieldNameConstant, executionResult.Duration),
	)
	return executionResult, nil
}
