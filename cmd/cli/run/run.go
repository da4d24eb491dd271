package run

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyemirov/monorun/internal/execshell"
	"github.com/tyemirov/monorun/internal/utils"
	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

const (
	commandUseConstant                     = "run <task> [task...]"
	commandShortDescriptionConstant        = "Run tasks across the workspace packages"
	commandLongDescriptionConstant         = "run expands the requested tasks into a task graph over the workspace packages, replays cached results, and executes the rest in dependency order."
	commandExampleConstant                 = "monorun run build\n  monorun run build test --filter ...[main] --concurrency 4\n  monorun run lint --filter '!@acme/docs' --continue"
	filterFlagNameConstant                 = "filter"
	filterFlagShorthandConstant            = "F"
	filterFlagDescriptionConstant          = "Select packages with a filter expression. Repeatable."
	concurrencyFlagNameConstant            = "concurrency"
	concurrencyFlagDescriptionConstant     = "Maximum number of tasks running at once (0 uses the CPU count)"
	continueFlagNameConstant               = "continue"
	continueFlagDescriptionConstant        = "Keep running independent tasks after a failure"
	onlyFlagNameConstant                   = "only"
	onlyFlagDescriptionConstant            = "Skip dependency tasks outside the selected packages whose results are already cached"
	outputLogsFlagNameConstant             = "output-logs"
	outputLogsFlagDescriptionConstant      = "Task output mode: full, new-only, hash-only, errors-only or none"
	cacheDirectoryFlagNameConstant         = "cache-dir"
	cacheDirectoryFlagDescriptionConstant  = "Local cache directory (defaults to .monorun/cache under the workspace root)"
	metricsFileFlagNameConstant            = "metrics-file"
	metricsFileFlagDescriptionConstant     = "Write Prometheus textfile metrics for the run to this path"
	historyDatabaseFlagNameConstant        = "history-db"
	historyDatabaseFlagDescriptionConstant = "Run history database (defaults to .monorun/history.db under the workspace root)"
)

// CommandBuilder assembles the run command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider func() CommandConfiguration
	RemoteCacheProvider   func() taskrunner.RemoteCacheOptions
	CommandRunner         execshell.CommandRunner
	TaskRunnerFactory     TaskRunnerFactory
}

// Build constructs the run command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     commandUseConstant,
		Short:   commandShortDescriptionConstant,
		Long:    commandLongDescriptionConstant,
		Example: commandExampleConstant,
		RunE:    builder.run,
	}

	command.Flags().StringArrayP(filterFlagNameConstant, filterFlagShorthandConstant, nil, filterFlagDescriptionConstant)
	command.Flags().Int(concurrencyFlagNameConstant, 0, concurrencyFlagDescriptionConstant)
	flagutils.AddToggleFlag(command.Flags(), nil, continueFlagNameConstant, "", false, continueFlagDescriptionConstant)
	flagutils.AddToggleFlag(command.Flags(), nil, onlyFlagNameConstant, "", false, onlyFlagDescriptionConstant)
	command.Flags().String(outputLogsFlagNameConstant, "", outputLogsFlagDescriptionConstant)
	command.Flags().String(cacheDirectoryFlagNameConstant, "", cacheDirectoryFlagDescriptionConstant)
	command.Flags().String(metricsFileFlagNameConstant, "", metricsFileFlagDescriptionConstant)
	command.Flags().String(historyDatabaseFlagNameConstant, "", historyDatabaseFlagDescriptionConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	taskNames := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		if trimmed := strings.TrimSpace(argument); len(trimmed) > 0 {
			taskNames = append(taskNames, trimmed)
		}
	}
	if len(taskNames) == 0 {
		if helpError := displayCommandHelp(command); helpError != nil {
			return helpError
		}
		return taskrunner.StageError{Stage: taskrunner.StageConfiguration, Err: taskrunner.ErrNoTasks}
	}

	configuration, configurationError := builder.resolveConfiguration(command)
	if configurationError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageConfiguration, Err: configurationError}
	}
	workspaceRoot, workspaceError := ResolveWorkspaceRoot(command)
	if workspaceError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageWorkspace, Err: workspaceError}
	}
	filters, filtersError := command.Flags().GetStringArray(filterFlagNameConstant)
	if filtersError != nil {
		return filtersError
	}

	dependencyOptions := taskrunner.DependenciesOptions{
		Command: command,
		Output:  utils.NewFlushingWriter(command.OutOrStdout()),
		Errors:  utils.NewFlushingWriter(command.ErrOrStderr()),
	}
	if builder.RemoteCacheProvider != nil {
		dependencyOptions.RemoteCache = builder.RemoteCacheProvider()
	}
	dependencies := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{
			LoggerProvider: builder.LoggerProvider,
			CommandRunner:  builder.CommandRunner,
		},
		dependencyOptions,
	)

	options := taskrunner.RunOptions{
		GraphOptions: taskrunner.GraphOptions{
			WorkspaceRoot: workspaceRoot,
			Tasks:         taskNames,
			Filters:       filters,
			Only:           configuration.Only,
			CacheDirectory: configuration.CacheDirectory,
		},
		Concurrency:       configuration.Concurrency,
		ContinueOnFailure: configuration.ContinueOnFailure,
		Force:             configuration.Force,
		DryRun:            configuration.DryRun,
		OutputLogs:        configuration.OutputLogs,
		MetricsFile:       configuration.MetricsFile,
		HistoryDatabase:   configuration.HistoryDatabase,
		Command:           strings.TrimSpace(command.CommandPath() + " " + strings.Join(arguments, " ")),
	}

	executor := resolveTaskRunner(builder.TaskRunnerFactory, dependencies)
	_, runError := executor.Run(command.Context(), options)
	return runError
}

// resolveConfiguration layers changed flags over the configured values.
func (builder *CommandBuilder) resolveConfiguration(command *cobra.Command) (CommandConfiguration, error) {
	configuration := DefaultCommandConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}

	if executionFlags, available := flagutils.ResolveExecutionFlags(command); available {
		if executionFlags.DryRunSet {
			configuration.DryRun = executionFlags.DryRun
		}
		if executionFlags.ForceSet {
			configuration.Force = executionFlags.Force
		}
	}

	concurrencyValue, concurrencyChanged, concurrencyError := flagutils.IntFlag(command, concurrencyFlagNameConstant)
	if concurrencyError != nil {
		return CommandConfiguration{}, concurrencyError
	}
	if concurrencyChanged {
		configuration.Concurrency = concurrencyValue
	}

	toggles := []struct {
		name   string
		target *bool
	}{
		{name: continueFlagNameConstant, target: &configuration.ContinueOnFailure},
		{name: onlyFlagNameConstant, target: &configuration.Only},
	}
	for _, toggle := range toggles {
		toggleValue, toggleChanged, toggleError := flagutils.BoolFlag(command, toggle.name)
		if toggleError != nil {
			return CommandConfiguration{}, toggleError
		}
		if toggleChanged {
			*toggle.target = toggleValue
		}
	}

	stringOverrides := []struct {
		name   string
		target *string
	}{
		{name: outputLogsFlagNameConstant, target: &configuration.OutputLogs},
		{name: cacheDirectoryFlagNameConstant, target: &configuration.CacheDirectory},
		{name: metricsFileFlagNameConstant, target: &configuration.MetricsFile},
		{name: historyDatabaseFlagNameConstant, target: &configuration.HistoryDatabase},
	}
	for _, override := range stringOverrides {
		overrideValue, overrideChanged, overrideError := flagutils.StringFlag(command, override.name)
		if overrideError != nil {
			return CommandConfiguration{}, overrideError
		}
		if overrideChanged {
			*override.target = overrideValue
		}
	}

	return configuration.Sanitize(), nil
}
