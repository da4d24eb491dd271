package utils_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/utils"
)

const (
	loggerTestDebugEventConstant   = "task_hash_computed"
	loggerTestWarnEventConstant    = "remote_cache_unavailable"
	loggerTestConsoleEventConstant = "run_summary"
)

func captureStandardError(testInstance *testing.T, emit func() (utils.LoggerOutputs, error)) (utils.LoggerOutputs, error, string) {
	testInstance.Helper()
	pipeReader, pipeWriter, pipeError := os.Pipe()
	require.NoError(testInstance, pipeError)

	originalStandardError := os.Stderr
	os.Stderr = pipeWriter
	outputs, creationError := emit()
	os.Stderr = originalStandardError

	require.NoError(testInstance, pipeWriter.Close())
	captured, readError := io.ReadAll(pipeReader)
	require.NoError(testInstance, readError)
	require.NoError(testInstance, pipeReader.Close())
	return outputs, creationError, string(captured)
}

func TestLoggerFactoryCreateLoggerOutputs(testInstance *testing.T) {
	testCases := []struct {
		name              string
		level             utils.LogLevel
		format            utils.LogFormat
		expectError       bool
		expectDebugEvent  bool
		expectConsoleLine bool
		expectJSON        bool
	}{
		{name: "structured debug", level: utils.LogLevelDebug, format: utils.LogFormatStructured, expectDebugEvent: true, expectJSON: true},
		{name: "structured warn filters debug", level: utils.LogLevelWarn, format: utils.LogFormatStructured, expectJSON: true},
		{name: "console info", level: " INFO ", format: utils.LogFormatConsole, expectConsoleLine: true},
		{name: "unsupported level", level: "verbose", format: utils.LogFormatStructured, expectError: true},
		{name: "unsupported format", level: utils.LogLevelInfo, format: "xml", expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			outputs, creationError, captured := captureStandardError(testInstance, func() (utils.LoggerOutputs, error) {
				created, err := utils.NewLoggerFactory().CreateLoggerOutputs(testCase.level, testCase.format)
				if err != nil {
					return created, err
				}
				created.DiagnosticLogger.Debug(loggerTestDebugEventConstant)
				created.DiagnosticLogger.Warn(loggerTestWarnEventConstant)
				created.ConsoleLogger.Info(loggerTestConsoleEventConstant)
				return created, nil
			})

			if testCase.expectError {
				require.Error(testInstance, creationError)
				require.Zero(testInstance, outputs)
				return
			}
			require.NoError(testInstance, creationError)
			require.Contains(testInstance, captured, loggerTestWarnEventConstant)
			require.Equal(testInstance, testCase.expectDebugEvent, bytes.Contains([]byte(captured), []byte(loggerTestDebugEventConstant)))
			require.Equal(testInstance, testCase.expectConsoleLine, bytes.Contains([]byte(captured), []byte(loggerTestConsoleEventConstant)))

			firstLine := bytes.SplitN(bytes.TrimSpace([]byte(captured)), []byte("\n"), 2)[0]
			require.Equal(testInstance, testCase.expectJSON, json.Valid(firstLine))
		})
	}
}
