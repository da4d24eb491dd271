package cache

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	runcmd "github.com/tyemirov/monorun/cmd/cli/run"
	"github.com/tyemirov/monorun/internal/cache"
	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

const (
	cleanUseConstant                      = "clean"
	cleanShortDescriptionConstant         = "Remove the local cache directory"
	cleanLongDescriptionConstant          = "clean deletes every entry of the local cache. Remote caches are left untouched."
	cacheDirectoryFlagNameConstant        = "cache-dir"
	cacheDirectoryFlagDescriptionConstant = "Local cache directory (defaults to .monorun/cache under the workspace root)"
	cacheRemovedTemplate                  = "removed %s\n"
	cacheCleanFailedTemplate              = "unable to remove cache directory %s: %w"
)

// CleanCommandBuilder assembles the cache clean command.
type CleanCommandBuilder struct {
	LoggerProvider func() *zap.Logger
	// CacheDirectoryProvider returns the configured run.cache_dir value.
	CacheDirectoryProvider func() string
}

// Build constructs the cache clean command.
func (builder *CleanCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   cleanUseConstant,
		Short: cleanShortDescriptionConstant,
		Long:  cleanLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	command.Flags().String(cacheDirectoryFlagNameConstant, "", cacheDirectoryFlagDescriptionConstant)
	return command, nil
}

func (builder *CleanCommandBuilder) run(command *cobra.Command, _ []string) error {
	workspaceRoot, workspaceError := runcmd.ResolveWorkspaceRoot(command)
	if workspaceError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageWorkspace, Err: workspaceError}
	}
	configured := ""
	if builder.CacheDirectoryProvider != nil {
		configured = builder.CacheDirectoryProvider()
	}
	flagValue, flagChanged, flagError := flagutils.StringFlag(command, cacheDirectoryFlagNameConstant)
	if flagError != nil {
		return flagError
	}
	if flagChanged {
		configured = flagValue
	}

	cacheDirectory := taskrunner.ResolveCacheDirectory(workspaceRoot, configured)
	store := cache.NewLocalStore(cacheDirectory, resolveLogger(builder.LoggerProvider))
	if cleanError := store.Clean(); cleanError != nil {
		return fmt.Errorf(cacheCleanFailedTemplate, cacheDirectory, cleanError)
	}
	_, writeError := fmt.Fprintf(command.OutOrStdout(), cacheRemovedTemplate, cacheDirectory)
	return writeError
}
