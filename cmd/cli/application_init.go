package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	flagutils "github.com/tyemirov/monorun/internal/utils/flags"
)

const (
	initScopeLocalConstant               = "local"
	initScopeUserConstant                = "user"
	initUnsupportedScopeTemplateConstant = "unsupported initialization scope %q (expected local or user)"
	initDirectoryErrorTemplateConstant   = "unable to prepare configuration directory %s: %w"
	initExistingFileTemplateConstant     = "configuration file already exists at %s (use --force to overwrite)"
	initWriteErrorTemplateConstant       = "unable to write configuration file %s: %w"
	initLocationErrorTemplateConstant    = "unable to locate %s configuration directory: %w"
	initContentUnavailableConstant       = "embedded configuration content is unavailable"
	initSuccessEventConstant             = "configuration_file_created"
	initFlagPrefixConstant               = "--" + configurationInitializationFlagNameConstant
)

// expandBareInitFlag rewrites a bare --init into --init=local so the optional scope does not swallow
// the following positional argument.
func expandBareInitFlag(arguments []string) []string {
	if len(arguments) == 0 {
		return nil
	}

	expanded := make([]string, 0, len(arguments))
	for index, argument := range arguments {
		switch {
		case argument == initFlagPrefixConstant+"=":
			argument = initFlagPrefixConstant + "=" + initScopeLocalConstant
		case argument == initFlagPrefixConstant:
			nextIndex := index + 1
			if nextIndex >= len(arguments) || strings.HasPrefix(arguments[nextIndex], "-") {
				argument = initFlagPrefixConstant + "=" + initScopeLocalConstant
			}
		}
		expanded = append(expanded, argument)
	}
	return expanded
}

// configurationTargetPath maps an --init scope to the file it writes.
func configurationTargetPath(scope string) (string, error) {
	var (
		baseDirectory string
		lookupError   error
	)
	normalizedScope := strings.ToLower(strings.TrimSpace(scope))
	switch normalizedScope {
	case "", initScopeLocalConstant:
		normalizedScope = initScopeLocalConstant
		baseDirectory, lookupError = os.Getwd()
	case initScopeUserConstant:
		var homeDirectory string
		homeDirectory, lookupError = os.UserHomeDir()
		baseDirectory = filepath.Join(homeDirectory, userConfigurationDirectoryNameConstant)
	default:
		return "", fmt.Errorf(initUnsupportedScopeTemplateConstant, strings.TrimSpace(scope))
	}
	if lookupError != nil {
		return "", fmt.Errorf(initLocationErrorTemplateConstant, normalizedScope, lookupError)
	}
	return filepath.Join(baseDirectory, configurationFileNameConstant), nil
}

// writeConfigurationFile creates targetPath with content. Existing files are replaced only when overwrite is set.
func writeConfigurationFile(targetPath string, content []byte, overwrite bool) error {
	if len(content) == 0 {
		return errors.New(initContentUnavailableConstant)
	}

	directory := filepath.Dir(targetPath)
	if mkdirError := os.MkdirAll(directory, configurationDirectoryPermissionConstant); mkdirError != nil {
		return fmt.Errorf(initDirectoryErrorTemplateConstant, directory, mkdirError)
	}

	openFlags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		openFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, openError := os.OpenFile(targetPath, openFlags, configurationFilePermissionConstant)
	if openError != nil {
		if errors.Is(openError, fs.ErrExist) {
			return fmt.Errorf(initExistingFileTemplateConstant, targetPath)
		}
		return fmt.Errorf(initWriteErrorTemplateConstant, targetPath, openError)
	}

	_, writeError := file.Write(content)
	closeError := file.Close()
	if joined := errors.Join(writeError, closeError); joined != nil {
		return fmt.Errorf(initWriteErrorTemplateConstant, targetPath, joined)
	}
	return nil
}

func (application *Application) handleConfigurationInitialization(command *cobra.Command) (bool, error) {
	if !application.persistentFlagChanged(command, configurationInitializationFlagNameConstant) {
		return false, nil
	}

	targetPath, targetError := configurationTargetPath(application.configurationInitializationScope)
	if targetError != nil {
		return true, targetError
	}

	content, _ := EmbeddedDefaultConfiguration()
	overwrite, _, _ := flagutils.BoolFlag(command, flagutils.ForceFlagName)
	if writeError := writeConfigurationFile(targetPath, content, overwrite); writeError != nil {
		return true, writeError
	}

	application.logger.Info(initSuccessEventConstant, zap.String(configurationFileFieldConstant, targetPath))
	return true, nil
}

// resolveConfigurationSearchPaths returns MONORUN_CONFIG_SEARCH_PATH entries when set, otherwise the
// working directory followed by the user configuration directories.
func (application *Application) resolveConfigurationSearchPaths() []string {
	searchPaths := make([]string, 0, 4)
	for _, entry := range filepath.SplitList(os.Getenv(configurationSearchPathEnvironmentVariableConstant)) {
		if trimmed := strings.TrimSpace(entry); len(trimmed) > 0 {
			searchPaths = append(searchPaths, trimmed)
		}
	}
	if len(searchPaths) > 0 {
		return searchPaths
	}

	searchPaths = append(searchPaths, defaultConfigurationSearchPathConstant)
	baseDirectories := []string{os.Getenv(xdgConfigHomeEnvironmentVariableConstant)}
	if userConfigDirectory, configDirError := os.UserConfigDir(); configDirError == nil {
		baseDirectories = append(baseDirectories, userConfigDirectory)
	}
	if homeDirectory, homeError := os.UserHomeDir(); homeError == nil {
		baseDirectories = append(baseDirectories, homeDirectory)
	}

	for _, baseDirectory := range baseDirectories {
		if len(strings.TrimSpace(baseDirectory)) == 0 {
			continue
		}
		candidate := filepath.Join(strings.TrimSpace(baseDirectory), userConfigurationDirectoryNameConstant)
		if !slices.Contains(searchPaths, candidate) {
			searchPaths = append(searchPaths, candidate)
		}
	}
	return searchPaths
}
