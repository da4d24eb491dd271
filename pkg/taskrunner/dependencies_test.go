package taskrunner

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/cache"
	"github.com/tyemirov/monorun/internal/execshell"
)

type stubCommandRunner struct{}

func (stubCommandRunner) Run(context.Context, execshell.TaskCommand, io.Writer) (execshell.ExecutionResult, error) {
	return execshell.ExecutionResult{}, nil
}

func TestBuildDependencies(testInstance *testing.T) {
	commandOutput := &bytes.Buffer{}
	commandErrors := &bytes.Buffer{}
	command := &cobra.Command{}
	command.SetOut(commandOutput)
	command.SetErr(commandErrors)
	explicitOutput := &bytes.Buffer{}
	store := cache.NewMemoryStore()

	testCases := []struct {
		name           string
		config         DependenciesConfig
		options        DependenciesOptions
		expectedOutput io.Writer
		expectedErrors io.Writer
		defaultRunner  bool
	}{
		{
			name:           "falls back to process streams",
			expectedOutput: os.Stdout,
			expectedErrors: os.Stderr,
			defaultRunner:  true,
		},
		{
			name:           "uses command streams",
			config:         DependenciesConfig{CommandRunner: stubCommandRunner{}},
			options:        DependenciesOptions{Command: command},
			expectedOutput: commandOutput,
			expectedErrors: commandErrors,
		},
		{
			name: "explicit writers win",
			config: DependenciesConfig{
				LoggerProvider: func() *zap.Logger { return zap.NewExample() },
				CommandRunner:  stubCommandRunner{},
				Store:          store,
			},
			options:        DependenciesOptions{Command: command, Output: explicitOutput, RemoteCache: RemoteCacheOptions{URL: "http://cache.local", Team: "team-a"}},
			expectedOutput: explicitOutput,
			expectedErrors: commandErrors,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			dependencies := BuildDependencies(testCase.config, testCase.options)
			require.NotNil(testInstance, dependencies.Logger)
			require.Same(testInstance, testCase.expectedOutput, dependencies.Output)
			require.Same(testInstance, testCase.expectedErrors, dependencies.Errors)
			require.Equal(testInstance, testCase.options.RemoteCache, dependencies.RemoteCache)
			if testCase.defaultRunner {
				require.IsType(testInstance, &execshell.ProcessRunner{}, dependencies.CommandRunner)
			} else {
				require.Equal(testInstance, stubCommandRunner{}, dependencies.CommandRunner)
			}
		})
	}
}

func TestResolveLoggerReplacesNil(testInstance *testing.T) {
	require.NotNil(testInstance, resolveLogger(nil))
	require.NotNil(testInstance, resolveLogger(func() *zap.Logger { return nil }))
}

func TestLazyRepositoryReportsMissingRepository(testInstance *testing.T) {
	provider := &lazyRepository{workspaceRoot: testInstance.TempDir()}
	_, firstError := provider.ChangedFiles(context.Background(), "HEAD", "")
	require.Error(testInstance, firstError)
	_, secondError := provider.ChangedFiles(context.Background(), "HEAD", "")
	require.Equal(testInstance, firstError, secondError)
}
