package execshell_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/monorun/internal/execshell"
)

const (
	testExecutionSuccessCaseNameConstant         = "success"
	testExecutionFailureCaseNameConstant         = "failure_exit_code"
	testExecutionRunnerErrorCaseNameConstant     = "runner_error"
	testLoggerInitializationCaseNameConstant     = "logger_validation"
	testRunnerInitializationCaseNameConstant     = "runner_validation"
	testSuccessfulInitializationCaseNameConstant = "successful_initialization"
	testTaskLabelConstant                        = "core:build"
	testTaskScriptConstant                       = "make build"
	testRunnerFailureMessageConstant             = "runner failure"
)

type recordingCommandRunner struct {
	executionResult  execshell.ExecutionResult
	executionError   error
	recordedCommands []execshell.TaskCommand
}

func (runner *recordingCommandRunner) Run(_ context.Context, command execshell.TaskCommand, output io.Writer) (execshell.ExecutionResult, error) {
	runner.recordedCommands = append(runner.recordedCommands, command)
	_, _ = output.Write(runner.executionResult.Output)
	return runner.executionResult, runner.executionError
}

func TestShellExecutorInitializationValidation(testInstance *testing.T) {
	testCases := []struct {
		name          string
		logger        *zap.Logger
		runner        execshell.CommandRunner
		expectError   error
		expectSuccess bool
	}{
		{
			name:        testLoggerInitializationCaseNameConstant,
			logger:      nil,
			runner:      &recordingCommandRunner{},
			expectError: execshell.ErrLoggerNotConfigured,
		},
		{
			name:        testRunnerInitializationCaseNameConstant,
			logger:      zap.NewNop(),
			runner:      nil,
			expectError: execshell.ErrCommandRunnerNotConfigured,
		},
		{
			name:          testSuccessfulInitializationCaseNameConstant,
			logger:        zap.NewNop(),
			runner:        &recordingCommandRunner{},
			expectSuccess: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor, creationError := execshell.NewShellExecutor(testCase.logger, testCase.runner)
			if testCase.expectSuccess {
				require.NoError(testInstance, creationError)
				require.NotNil(testInstance, executor)
			} else {
				require.ErrorIs(testInstance, creationError, testCase.expectError)
			}
		})
	}
}

func TestShellExecutorExecuteBehavior(testInstance *testing.T) {
	testCases := []struct {
		name            string
		runnerResult    execshell.ExecutionResult
		runnerError     error
		expectErrorType any
		expectedLevels  []zapcore.Level
	}{
		{
			name:           testExecutionSuccessCaseNameConstant,
			runnerResult:   execshell.ExecutionResult{Output: []byte("ok\n")},
			expectedLevels: []zapcore.Level{zap.DebugLevel, zap.DebugLevel},
		},
		{
			name:            testExecutionFailureCaseNameConstant,
			runnerResult:    execshell.ExecutionResult{Output: []byte("compile error\n"), ExitCode: 2},
			expectErrorType: execshell.CommandFailedError{},
			expectedLevels:  []zapcore.Level{zap.DebugLevel, zap.WarnLevel},
		},
		{
			name:            testExecutionRunnerErrorCaseNameConstant,
			runnerError:     errors.New(testRunnerFailureMessageConstant),
			expectErrorType: execshell.CommandExecutionError{},
			expectedLevels:  []zapcore.Level{zap.DebugLevel, zap.ErrorLevel},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			observerCore, observerLogs := observer.New(zap.DebugLevel)
			recordingRunner := &recordingCommandRunner{executionResult: testCase.runnerResult, executionError: testCase.runnerError}

			shellExecutor, creationError := execshell.NewShellExecutor(zap.New(observerCore), recordingRunner)
			require.NoError(testInstance, creationError)

			var streamed bytes.Buffer
			command := execshell.TaskCommand{Label: testTaskLabelConstant, Script: testTaskScriptConstant, WorkingDirectory: "."}
			executionResult, executionError := shellExecutor.Execute(context.Background(), command, &streamed)

			if testCase.expectErrorType != nil {
				require.Error(testInstance, executionError)
				require.IsType(testInstance, testCase.expectErrorType, executionError)
			} else {
				require.NoError(testInstance, executionError)
			}
			require.Equal(testInstance, testCase.runnerResult.Output, executionResult.Output)
			require.Equal(testInstance, string(testCase.runnerResult.Output), streamed.String())
			require.Equal(testInstance, []execshell.TaskCommand{command}, recordingRunner.recordedCommands)

			capturedLogs := observerLogs.All()
			require.Len(testInstance, capturedLogs, len(testCase.expectedLevels))
			for logIndex := range capturedLogs {
				require.Equal(testInstance, testCase.expectedLevels[logIndex], capturedLogs[logIndex].Level)
			}
		})
	}
}

func TestShellExecutorRejectsEmptyScript(testInstance *testing.T) {
	recordingRunner := &recordingCommandRunner{}
	shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), recordingRunner)
	require.NoError(testInstance, creationError)

	_, executionError := shellExecutor.Execute(context.Background(), execshell.TaskCommand{Label: testTaskLabelConstant, Script: "  "}, nil)
	require.ErrorIs(testInstance, executionError, execshell.ErrCommandScriptMissing)
	require.Empty(testInstance, recordingRunner.recordedCommands)
}

func TestCommandFailedErrorMessage(testInstance *testing.T) {
	testCases := []struct {
		name     string
		output   string
		expected string
	}{
		{name: "no_output", output: "", expected: "core:build exited with code 1"},
		{name: "short_output", output: "boom\n", expected: "core:build exited with code 1: boom"},
		{name: "tail_lines", output: "one\ntwo\nthree\nfour\n", expected: "core:build exited with code 1: two | three | four"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			failure := execshell.CommandFailedError{
				Command: execshell.TaskCommand{Label: testTaskLabelConstant},
				Result:  execshell.ExecutionResult{Output: []byte(testCase.output), ExitCode: 1},
			}
			require.Equal(testInstance, testCase.expected, failure.Error())
		})
	}
}
