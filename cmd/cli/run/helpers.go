package run

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/utils"
	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// TaskRunnerExecutor represents a task graph runner.
type TaskRunnerExecutor = taskrunner.Executor

// TaskRunnerFactory constructs task graph runners.
type TaskRunnerFactory = taskrunner.Factory

func resolveTaskRunner(factory TaskRunnerFactory, dependencies taskrunner.Dependencies) TaskRunnerExecutor {
	return taskrunner.Resolve(factory, dependencies)
}

// ResolveWorkspaceRoot returns the workspace root from the command context, the --cwd flag, or
// the working directory, in that order.
func ResolveWorkspaceRoot(command *cobra.Command) (string, error) {
	if command != nil {
		if workspaceFlagValue, workspaceFlagChanged, workspaceFlagError := flagutils.StringFlag(command, flagutils.WorkspaceFlagName); workspaceFlagError == nil && workspaceFlagChanged {
			if trimmed := strings.TrimSpace(workspaceFlagValue); len(trimmed) > 0 {
				return trimmed, nil
			}
		}
		if workspaceContext, available := utils.NewCommandContextAccessor().WorkspaceContext(command.Context()); available {
			return workspaceContext.Root, nil
		}
	}
	return os.Getwd()
}

func displayCommandHelp(command *cobra.Command) error {
	if command == nil {
		return nil
	}
	return command.Help()
}
