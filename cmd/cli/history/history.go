// Package history provides the history command listing recorded runs.
package history

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	runcmd "github.com/tyemirov/monorun/cmd/cli/run"
	runhistory "github.com/tyemirov/monorun/internal/history"
	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

const (
	historyUseConstant              = "history"
	historyShortDescriptionConstant = "List recorded runs"
	historyLongDescriptionConstant  = "history prints the most recent runs recorded in the history database, newest first."
	limitFlagNameConstant           = "limit"
	limitFlagDescriptionConstant    = "Maximum number of runs to list"
	tasksFlagNameConstant           = "tasks"
	tasksFlagDescriptionConstant    = "Include per-task outcomes"
	historyDatabaseFlagNameConstant = "history-db"
	historyDatabaseFlagDescription  = "History database path (defaults to .monorun/history.db under the workspace root)"
	defaultLimit                    = 20
	emptyHistoryMessage             = "no runs recorded\n"
	runHeaderLine                   = "RUN\tSTARTED\tDURATION\tEXIT\tTASKS\tCOMMAND\n"
	runLineTemplate                 = "%s\t%s\t%s\t%d\t%d\t%s\n"
	taskLineTemplate                = "  %s\t%s\t%s\t%s\t\t\n"
	startedTimeLayout               = time.RFC3339
	runIdentifierDisplayLength      = 8
	hashDisplayLength               = 16
)

// CommandBuilder assembles the history command.
type CommandBuilder struct {
	LoggerProvider func() *zap.Logger
	// HistoryDatabaseProvider returns the configured run.history_db value.
	HistoryDatabaseProvider func() string
}

// Build constructs the history command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   historyUseConstant,
		Short: historyShortDescriptionConstant,
		Long:  historyLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	command.Flags().Int(limitFlagNameConstant, defaultLimit, limitFlagDescriptionConstant)
	command.Flags().Bool(tasksFlagNameConstant, false, tasksFlagDescriptionConstant)
	command.Flags().String(historyDatabaseFlagNameConstant, "", historyDatabaseFlagDescription)
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, _ []string) error {
	workspaceRoot, workspaceError := runcmd.ResolveWorkspaceRoot(command)
	if workspaceError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageWorkspace, Err: workspaceError}
	}
	limit, _, limitError := flagutils.IntFlag(command, limitFlagNameConstant)
	if limitError != nil {
		return limitError
	}
	includeTasks, _, tasksError := flagutils.BoolFlag(command, tasksFlagNameConstant)
	if tasksError != nil {
		return tasksError
	}
	databasePath := ""
	if builder.HistoryDatabaseProvider != nil {
		databasePath = builder.HistoryDatabaseProvider()
	}
	flagValue, flagChanged, flagError := flagutils.StringFlag(command, historyDatabaseFlagNameConstant)
	if flagError != nil {
		return flagError
	}
	if flagChanged {
		databasePath = flagValue
	}

	dependencies := taskrunner.BuildDependencies(
		taskrunner.DependenciesConfig{LoggerProvider: builder.LoggerProvider},
		taskrunner.DependenciesOptions{Command: command},
	)
	runs, listError := taskrunner.NewRunner(dependencies).History(command.Context(), taskrunner.HistoryOptions{
		WorkspaceRoot:   workspaceRoot,
		HistoryDatabase: databasePath,
		Limit:           limit,
	})
	if listError != nil {
		return listError
	}
	return Render(dependencies.Output, runs, includeTasks)
}

// Render writes runs as an aligned table.
func Render(writer io.Writer, runs []runhistory.RunRecord, includeTasks bool) error {
	if len(runs) == 0 {
		_, writeError := io.WriteString(writer, emptyHistoryMessage)
		return writeError
	}
	tableWriter := tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	if _, writeError := io.WriteString(tableWriter, runHeaderLine); writeError != nil {
		return writeError
	}
	for _, run := range runs {
		if _, writeError := fmt.Fprintf(tableWriter, runLineTemplate,
			shorten(run.ID, runIdentifierDisplayLength),
			run.StartedAt.UTC().Format(startedTimeLayout),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.ExitCode,
			len(run.Tasks),
			strings.TrimSpace(run.Command),
		); writeError != nil {
			return writeError
		}
		if !includeTasks {
			continue
		}
		for _, task := range run.Tasks {
			if _, writeError := fmt.Fprintf(tableWriter, taskLineTemplate, task.Node, task.Status, task.Duration.Round(time.Millisecond), shorten(task.Hash, hashDisplayLength)); writeError != nil {
				return writeError
			}
		}
	}
	return tableWriter.Flush()
}

func shorten(value string, length int) string {
	if len(value) <= length {
		return value
	}
	return value[:length]
}
