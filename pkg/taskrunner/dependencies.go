package taskrunner

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/cache"
	"github.com/tyemirov/monorun/internal/execshell"
	"github.com/tyemirov/monorun/internal/filter"
	"github.com/tyemirov/monorun/internal/scm"
)

// RemoteCacheOptions selects an optional remote cache tier. URL takes precedence over NATSURL.
type RemoteCacheOptions struct {
	URL        string
	Token      string
	Team       string
	Timeout    time.Duration
	NATSURL    string
	NATSBucket string
}

// Dependencies carries the collaborators of a run.
type Dependencies struct {
	Logger *zap.Logger
	// Output receives task output and the run summary.
	Output io.Writer
	// Errors receives failure details.
	Errors io.Writer
	// Store replaces the local and remote cache tiers when set.
	Store         cache.Store
	CommandRunner execshell.CommandRunner
	// ChangedFiles replaces the git adapter used by revision filters when set.
	ChangedFiles      filter.ChangedFilesProvider
	RemoteCache       RemoteCacheOptions
	LookupEnvironment func(string) (string, bool)
}

// DependenciesConfig captures providers required to build run dependencies.
type DependenciesConfig struct {
	LoggerProvider func() *zap.Logger
	CommandRunner  execshell.CommandRunner
	ChangedFiles   filter.ChangedFilesProvider
	Store          cache.Store
}

// DependenciesOptions allows per-command overrides when resolving run dependencies.
type DependenciesOptions struct {
	Command     *cobra.Command
	Output      io.Writer
	Errors      io.Writer
	RemoteCache RemoteCacheOptions
}

// BuildDependencies resolves logging, writers and process execution for a run.
func BuildDependencies(config DependenciesConfig, options DependenciesOptions) Dependencies {
	commandRunner := config.CommandRunner
	if commandRunner == nil {
		commandRunner = execshell.NewProcessRunner()
	}
	return Dependencies{
		Logger:        resolveLogger(config.LoggerProvider),
		Output:        resolveWriter(options.Output, options.Command, true),
		Errors:        resolveWriter(options.Errors, options.Command, false),
		Store:         config.Store,
		CommandRunner: commandRunner,
		ChangedFiles:  config.ChangedFiles,
		RemoteCache:   options.RemoteCache,
	}
}

func resolveLogger(provider func() *zap.Logger) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func resolveWriter(provided io.Writer, command *cobra.Command, useStdout bool) io.Writer {
	if provided != nil {
		return provided
	}
	if command != nil {
		if useStdout {
			if writer := command.OutOrStdout(); writer != nil && writer != io.Discard {
				return writer
			}
		} else {
			if writer := command.ErrOrStderr(); writer != nil && writer != io.Discard {
				return writer
			}
		}
	}
	if useStdout {
		return os.Stdout
	}
	return os.Stderr
}

// lazyRepository opens the workspace repository on the first revision filter.
type lazyRepository struct {
	workspaceRoot string
	once          sync.Once
	repository    *scm.Repository
	openError     error
}

func (provider *lazyRepository) ChangedFiles(executionContext context.Context, from string, to string) ([]string, error) {
	provider.once.Do(func() {
		provider.repository, provider.openError = scm.Open(provider.workspaceRoot)
	})
	if provider.openError != nil {
		return nil, provider.openError
	}
	return provider.repository.ChangedFiles(executionContext, from, to)
}
