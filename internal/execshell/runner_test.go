//go:build unix

package execshell_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/execshell"
)

func TestProcessRunnerRun(testInstance *testing.T) {
	testCases := []struct {
		name             string
		script           string
		environment      map[string]string
		expectedExitCode int
		expectedOutput   string
	}{
		{name: "stdout_and_stderr", script: "echo out; echo err 1>&2", expectedOutput: "out\nerr\n"},
		{name: "non_zero_exit", script: "echo failing; exit 3", expectedExitCode: 3, expectedOutput: "failing\n"},
		{name: "environment_overrides", script: "echo \"$MONORUN_TEST_VALUE\"", environment: map[string]string{"MONORUN_TEST_VALUE": "from-dotenv"}, expectedOutput: "from-dotenv\n"},
		{name: "working_directory", script: "cat marker.txt", expectedOutput: "marker\n"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			workingDirectory := testInstance.TempDir()
			require.NoError(testInstance, os.WriteFile(filepath.Join(workingDirectory, "marker.txt"), []byte("marker\n"), 0o644))

			var streamed bytes.Buffer
			runner := execshell.NewProcessRunner()
			result, runError := runner.Run(context.Background(), execshell.TaskCommand{
				Label:                "pkg:task",
				Script:               testCase.script,
				WorkingDirectory:     workingDirectory,
				EnvironmentVariables: testCase.environment,
			}, &streamed)
			require.NoError(testInstance, runError)
			require.Equal(testInstance, testCase.expectedExitCode, result.ExitCode)
			require.Equal(testInstance, testCase.expectedOutput, string(result.Output))
			require.Equal(testInstance, testCase.expectedOutput, streamed.String())
		})
	}
}

func TestProcessRunnerCancellationTerminatesProcessGroup(testInstance *testing.T) {
	workingDirectory := testInstance.TempDir()
	executionContext, cancel := context.WithCancel(context.Background())

	runner := &execshell.ProcessRunner{TerminationGracePeriod: 2 * time.Second, BaseEnvironment: os.Environ}
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	startedAt := time.Now()
	_, runError := runner.Run(executionContext, execshell.TaskCommand{
		Label:            "pkg:dev",
		Script:           "sleep 30 & wait",
		WorkingDirectory: workingDirectory,
	}, nil)
	require.ErrorIs(testInstance, runError, context.Canceled)
	require.Less(testInstance, time.Since(startedAt), 10*time.Second)
}

func TestProcessRunnerRefusesCancelledContext(testInstance *testing.T) {
	executionContext, cancel := context.WithCancel(context.Background())
	cancel()
	_, runError := execshell.NewProcessRunner().Run(executionContext, execshell.TaskCommand{Script: "echo never"}, nil)
	require.ErrorIs(testInstance, runError, context.Canceled)
}

func TestPrefixWriter(testInstance *testing.T) {
	var destination bytes.Buffer
	writer := execshell.NewPrefixWriter(&destination, "app:build")

	_, writeError := writer.Write([]byte("first line\nsec"))
	require.NoError(testInstance, writeError)
	_, writeError = writer.Write([]byte("ond line\npartial"))
	require.NoError(testInstance, writeError)
	require.NoError(testInstance, writer.Flush())
	require.NoError(testInstance, writer.Flush())

	lines := strings.Split(strings.TrimSuffix(destination.String(), "\n"), "\n")
	require.Equal(testInstance, []string{"app:build: first line", "app:build: second line", "app:build: partial"}, lines)
}
