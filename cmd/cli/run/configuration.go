package run

import (
	"strings"
)

// CommandConfiguration captures configuration values for run.
type CommandConfiguration struct {
	Concurrency       int    `mapstructure:"concurrency"`
	ContinueOnFailure bool   `mapstructure:"continue_on_failure"`
	CacheDirectory    string `mapstructure:"cache_dir"`
	Force             bool   `mapstructure:"force"`
	DryRun            bool   `mapstructure:"dry_run"`
	Only              bool   `mapstructure:"only"`
	OutputLogs        string `mapstructure:"output_logs"`
	MetricsFile       string `mapstructure:"metrics_file"`
	HistoryDatabase   string `mapstructure:"history_db"`
}

// DefaultCommandConfiguration provides default settings for run.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		OutputLogs: "full",
	}
}

// Sanitize normalizes configuration values.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	if sanitized.Concurrency < 0 {
		sanitized.Concurrency = 0
	}
	sanitized.CacheDirectory = strings.TrimSpace(configuration.CacheDirectory)
	sanitized.OutputLogs = strings.ToLower(strings.TrimSpace(configuration.OutputLogs))
	sanitized.MetricsFile = strings.TrimSpace(configuration.MetricsFile)
	sanitized.HistoryDatabase = strings.TrimSpace(configuration.HistoryDatabase)
	return sanitized
}
