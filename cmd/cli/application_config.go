package cli

import (
	_ "embed"
	"strings"
	"time"

	cachecmd "github.com/tyemirov/monorun/cmd/cli/cache"
	runcmd "github.com/tyemirov/monorun/cmd/cli/run"
	"github.com/tyemirov/monorun/pkg/taskrunner"
)

//go:embed default_configuration.yaml
var embeddedDefaultConfiguration []byte

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common      ApplicationCommonConfiguration `mapstructure:"common"`
	Run         runcmd.CommandConfiguration    `mapstructure:"run"`
	RemoteCache RemoteCacheConfiguration       `mapstructure:"remote_cache"`
	CacheServer cachecmd.ServeConfiguration    `mapstructure:"cache_server"`
}

// ApplicationCommonConfiguration stores logging defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// RemoteCacheConfiguration selects the shared cache tier. url wins over nats_url.
type RemoteCacheConfiguration struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Team       string        `mapstructure:"team"`
	Timeout    time.Duration `mapstructure:"timeout"`
	NATSURL    string        `mapstructure:"nats_url"`
	NATSBucket string        `mapstructure:"nats_bucket"`
}

// EmbeddedDefaultConfiguration returns the configuration compiled into the binary and its format.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return append([]byte{}, embeddedDefaultConfiguration...), configurationTypeConstant
}

func (application *Application) runConfiguration() runcmd.CommandConfiguration {
	return application.configuration.Run.Sanitize()
}

func (application *Application) remoteCacheOptions() taskrunner.RemoteCacheOptions {
	remoteCache := application.configuration.RemoteCache
	return taskrunner.RemoteCacheOptions{
		URL:        strings.TrimSpace(remoteCache.URL),
		Token:      strings.TrimSpace(remoteCache.Token),
		Team:       strings.TrimSpace(remoteCache.Team),
		Timeout:    remoteCache.Timeout,
		NATSURL:    strings.TrimSpace(remoteCache.NATSURL),
		NATSBucket: strings.TrimSpace(remoteCache.NATSBucket),
	}
}

func (application *Application) cacheServeConfiguration() cachecmd.ServeConfiguration {
	return application.configuration.CacheServer.Sanitize()
}

func (application *Application) cacheDirectory() string {
	return application.configuration.Run.Sanitize().CacheDirectory
}

func (application *Application) historyDatabase() string {
	return application.configuration.Run.Sanitize().HistoryDatabase
}
