package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	runcmd "github.com/tyemirov/monorun/cmd/cli/run"
	"github.com/tyemirov/monorun/internal/cache"
	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

const (
	serveUseConstant                 = "serve"
	serveShortDescriptionConstant    = "Serve a remote cache over HTTP"
	serveLongDescriptionConstant     = "serve runs the reference remote cache: GET and PUT /artifacts/{hash}, partitioned by the teamId or slug query parameter and guarded by an optional bearer token."
	serveExampleConstant             = "monorun cache serve --addr :8080 --dir /var/lib/monorun --token $MONORUN_REMOTE_CACHE_TOKEN"
	addressFlagNameConstant          = "addr"
	addressFlagDescriptionConstant   = "Listen address"
	directoryFlagNameConstant        = "dir"
	directoryFlagDescriptionConstant = "Artifact storage directory (defaults to .monorun/remote under the workspace root)"
	tokenFlagNameConstant            = "token"
	tokenFlagDescriptionConstant     = "Bearer token required from clients (empty disables authentication)"
	remoteDirectoryName              = "remote"
	serverStartedEvent               = "cache_server_started"
	serverStoppedEvent               = "cache_server_stopped"
	addressFieldName                 = "address"
	directoryFieldName               = "directory"
	shutdownTimeout                  = 5 * time.Second
	readHeaderTimeout                = 10 * time.Second
	serveErrorTemplate               = "cache server failed: %w"
)

// Listener opens the network listener for the server.
type Listener func(network string, address string) (net.Listener, error)

// ServeCommandBuilder assembles the cache serve command.
type ServeCommandBuilder struct {
	LoggerProvider        func() *zap.Logger
	ConfigurationProvider func() ServeConfiguration
	Listen                Listener
}

// Build constructs the cache serve command.
func (builder *ServeCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     serveUseConstant,
		Short:   serveShortDescriptionConstant,
		Long:    serveLongDescriptionConstant,
		Example: serveExampleConstant,
		Args:    cobra.NoArgs,
		RunE:    builder.run,
	}

	command.Flags().String(addressFlagNameConstant, "", addressFlagDescriptionConstant)
	command.Flags().String(directoryFlagNameConstant, "", directoryFlagDescriptionConstant)
	command.Flags().String(tokenFlagNameConstant, "", tokenFlagDescriptionConstant)

	return command, nil
}

func (builder *ServeCommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration, configurationError := builder.resolveConfiguration(command)
	if configurationError != nil {
		return taskrunner.StageError{Stage: taskrunner.StageConfiguration, Err: configurationError}
	}
	if len(configuration.Directory) == 0 {
		workspaceRoot, workspaceError := runcmd.ResolveWorkspaceRoot(command)
		if workspaceError != nil {
			return taskrunner.StageError{Stage: taskrunner.StageWorkspace, Err: workspaceError}
		}
		configuration.Directory = filepath.Join(workspaceRoot, taskrunner.StateDirectoryName, remoteDirectoryName)
	}

	logger := resolveLogger(builder.LoggerProvider)
	listen := builder.Listen
	if listen == nil {
		listen = net.Listen
	}
	listener, listenError := listen("tcp", configuration.Address)
	if listenError != nil {
		return fmt.Errorf(serveErrorTemplate, listenError)
	}

	server := &http.Server{
		Handler:           cache.NewServerHandler(cache.ServerOptions{Directory: configuration.Directory, Token: configuration.Token, Logger: logger}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	logger.Info(serverStartedEvent, zap.String(addressFieldName, listener.Addr().String()), zap.String(directoryFieldName, configuration.Directory))

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- server.Serve(listener)
	}()

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}
	select {
	case serveError := <-serveErrors:
		if errors.Is(serveError, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf(serveErrorTemplate, serveError)
	case <-executionContext.Done():
	}

	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	shutdownError := server.Shutdown(shutdownContext)
	logger.Info(serverStoppedEvent, zap.String(addressFieldName, listener.Addr().String()))
	return shutdownError
}

func (builder *ServeCommandBuilder) resolveConfiguration(command *cobra.Command) (ServeConfiguration, error) {
	configuration := DefaultServeConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}
	overrides := []struct {
		name   string
		target *string
	}{
		{name: addressFlagNameConstant, target: &configuration.Address},
		{name: directoryFlagNameConstant, target: &configuration.Directory},
		{name: tokenFlagNameConstant, target: &configuration.Token},
	}
	for _, override := range overrides {
		value, changed, flagError := flagutils.StringFlag(command, override.name)
		if flagError != nil {
			return ServeConfiguration{}, flagError
		}
		if changed {
			*override.target = value
		}
	}
	return configuration.Sanitize(), nil
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
