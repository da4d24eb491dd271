package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cachecmd "github.com/tyemirov/monorun/cmd/cli/cache"
	graphcmd "github.com/tyemirov/monorun/cmd/cli/graph"
	historycmd "github.com/tyemirov/monorun/cmd/cli/history"
	runcmd "github.com/tyemirov/monorun/cmd/cli/run"
)

const (
	cacheNamespaceUseNameConstant          = "cache"
	cacheNamespaceShortDescriptionConstant = "Local and remote cache maintenance commands"
)

func (application *Application) registerCommands(cobraCommand *cobra.Command) {
	loggerProvider := func() *zap.Logger {
		return application.logger
	}

	runBuilder := runcmd.CommandBuilder{
		LoggerProvider:        loggerProvider,
		ConfigurationProvider: application.runConfiguration,
		RemoteCacheProvider:   application.remoteCacheOptions,
	}
	if runCommand, runBuildError := runBuilder.Build(); runBuildError == nil {
		cobraCommand.AddCommand(runCommand)
	}

	graphBuilder := graphcmd.CommandBuilder{
		LoggerProvider:         loggerProvider,
		CacheDirectoryProvider: application.cacheDirectory,
		RemoteCacheProvider:    application.remoteCacheOptions,
	}
	if graphCommand, graphBuildError := graphBuilder.Build(); graphBuildError == nil {
		cobraCommand.AddCommand(graphCommand)
	}

	historyBuilder := historycmd.CommandBuilder{
		LoggerProvider:          loggerProvider,
		HistoryDatabaseProvider: application.historyDatabase,
	}
	if historyCommand, historyBuildError := historyBuilder.Build(); historyBuildError == nil {
		cobraCommand.AddCommand(historyCommand)
	}

	cacheNamespaceCommand := newNamespaceCommand(cacheNamespaceUseNameConstant, cacheNamespaceShortDescriptionConstant)
	serveBuilder := cachecmd.ServeCommandBuilder{
		LoggerProvider:        loggerProvider,
		ConfigurationProvider: application.cacheServeConfiguration,
	}
	if serveCommand, serveBuildError := serveBuilder.Build(); serveBuildError == nil {
		cacheNamespaceCommand.AddCommand(serveCommand)
	}
	cleanBuilder := cachecmd.CleanCommandBuilder{
		LoggerProvider:         loggerProvider,
		CacheDirectoryProvider: application.cacheDirectory,
	}
	if cleanCommand, cleanBuildError := cleanBuilder.Build(); cleanBuildError == nil {
		cacheNamespaceCommand.AddCommand(cleanCommand)
	}
	if len(cacheNamespaceCommand.Commands()) > 0 {
		cobraCommand.AddCommand(cacheNamespaceCommand)
	}
}

func newNamespaceCommand(use string, shortDescription string, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   shortDescription,
		Aliases: aliases,
		Args:    cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}
}
