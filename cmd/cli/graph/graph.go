package graph

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	runcmd "github.com/tyemirov/monorun/cmd/cli/run"
	"github.com/tyemirov/monorun/internal/filter"
	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

const (
	commandUseConstant              = "graph <task> [task...]"
	commandShortDescriptionConstant = "Print the task graph without running it"
	commandLongDescriptionConstant  = "graph resolves the requested tasks and filters into the task graph and prints its execution stages, as YAML, or as a Graphviz digraph."
	commandExampleConstant          = "monorun graph build\n  monorun graph build --filter app... --format dot | dot -Tsvg > graph.svg"
	filterFlagNameConstant          = "filter"
	filterFlagShorthandConstant     = "F"
	filterFlagDescriptionConstant   = "Select packages with a filter expression. Repeatable."
	onlyFlagNameConstant            = "only"
	onlyFlagDescriptionConstant     = "Drop dependency tasks outside the selected packages whose results are already cached"
	formatFlagNameConstant          = "format"
	formatFlagDescriptionConstant   = "Output format: text, yaml or dot"
)

// CommandBuilder assembles the graph command.
type CommandBuilder struct {
	LoggerProvider func() *zap.Logger
	// CacheDirectoryProvider returns the configured run.cache_dir value consulted by --only.
	CacheDirectoryProvider func() string
	RemoteCacheProvider    func() taskrunner.RemoteCacheOptions
	// ChangedFiles replaces the git adapter used by revision filters when set.
	ChangedFiles filter.ChangedFilesProvider
}

// Build constructs the graph command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     commandUseConstant,
		Short:   commandShortDescriptionConstant,
		Long:    commandLongDescriptionConstant,
		Example: commandExampleConstant,
		RunE:    builder.run,
	}

	command.Flags().StringArrayP(filterFlagNameConstant, filterFlagShorthandConstant, nil, filterFlagDescriptionConstant)
	flagutils.AddToggleFlag(command.Flags(), nil, onlyFlagNameConstant, "", false, onlyFlagDescriptionConstant)
	command.Flags().String(formatFlagNameConstant, string(FormatText), formatFlagDescriptionConstant)

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
		if helpError := command.Help(); helpError != nil {
			return helpError
		}
		return taskrunner.StageError{Stage: taskrunner.StageConfiguration, Err: taskrunner.ErrNoTasks}
	}

	formatValue, _, formatFlagError := flagutils.StringFlag(command, formatFlagNameConstant)
	if formatFlagError != nil {
		return formatFlagError
	}
	format, formatError := ParseFormat(formatValue)
	if formatError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageConfiguration, Err: formatError}
	}
	filters, filtersError := command.Flags().GetStringArray(filterFlagNameConstant)
	if filtersError != nil {
		return filtersError
	}
	only, _, onlyError := flagutils.BoolFlag(command, onlyFlagNameConstant)
	if onlyError != nil {
		return onlyError
	}
	workspaceRoot, workspaceError := runcmd.ResolveWorkspaceRoot(command)
	if workspaceError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageWorkspace, Err: workspaceError}
	}

	dependencyOptions := taskrunner.DependenciesOptions{Command: command}
	cacheDirectory := ""
	if builder.CacheDirectoryProvider != nil {
		cacheDirectory = builder.CacheDirectoryProvider()
	}
	if builder.RemoteCacheProvider != nil {
		dependencyOptions.RemoteCache = builder.RemoteCacheProvider()
	}
	dependencies := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{LoggerProvider: builder.LoggerProvider, ChangedFiles: builder.ChangedFiles},
		dependencyOptions,
	)
	graph, loadError := taskrunner.NewRunner(dependencies).LoadGraph(command.Context(), taskrunner.GraphOptions{
		WorkspaceRoot:  workspaceRoot,
		Tasks:          taskNames,
		Filters:        filters,
		Only:           only,
		CacheDirectory: cacheDirectory,
	})
	if loadError != nil {
		return loadError
	}
	return Render(dependencies.Output, graph, format)
}
