package cache

import (
	"strings"
)

const defaultServeAddress = ":8080"

// ServeConfiguration captures configuration values for cache serve.
type ServeConfiguration struct {
	Address   string `mapstructure:"address"`
	Directory string `mapstructure:"directory"`
	Token     string `mapstructure:"token"`
}

// DefaultServeConfiguration provides default settings for cache serve.
func DefaultServeConfiguration() ServeConfiguration {
	return ServeConfiguration{Address: defaultServeAddress}
}

// Sanitize normalizes configuration values.
func (configuration ServeConfiguration) Sanitize() ServeConfiguration {
	sanitized := configuration
	sanitized.Address = strings.TrimSpace(configuration.Address)
	if len(sanitized.Address) == 0 {
		sanitized.Address = defaultServeAddress
	}
	sanitized.Directory = strings.TrimSpace(configuration.Directory)
	sanitized.Token = strings.TrimSpace(configuration.Token)
	return sanitized
}
