package cli_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/cmd/cli"
)

const (
	testConfigurationFileNameConstant          = "config.yaml"
	testConfigurationSearchPathEnvironmentName = "MONORUN_CONFIG_SEARCH_PATH"
	testUserConfigurationDirectoryNameConstant = ".monorun"
	testXDGConfigHomeDirectoryNameConstant     = "config"
	testApplicationNameConstant                = "monorun"
	testExistingConfigurationContentConstant   = "common:\n  log_level: error\n"
	testSubtestNameTemplateConstant            = "%d_%s"
	testWorkspaceDeclarationConstant           = "tasks:\n  build:\n    dependsOn: [\"^build\"]\n    outputs: [\"out.txt\"]\n"
)

func isolateConfiguration(testInstance *testing.T) string {
	testInstance.Helper()
	homeDirectory := testInstance.TempDir()
	testInstance.Setenv("HOME", homeDirectory)
	testInstance.Setenv("XDG_CONFIG_HOME", filepath.Join(homeDirectory, testXDGConfigHomeDirectoryNameConstant))
	testInstance.Setenv(testConfigurationSearchPathEnvironmentName, "")
	return homeDirectory
}

func changeWorkingDirectory(testInstance *testing.T, directory string) {
	testInstance.Helper()
	originalWorkingDirectory, workingDirectoryError := os.Getwd()
	require.NoError(testInstance, workingDirectoryError)
	require.NoError(testInstance, os.Chdir(directory))
	testInstance.Cleanup(func() {
		require.NoError(testInstance, os.Chdir(originalWorkingDirectory))
	})
}

func executeWithArguments(testInstance *testing.T, arguments ...string) error {
	testInstance.Helper()
	originalArguments := os.Args
	os.Args = append([]string{testApplicationNameConstant}, arguments...)
	testInstance.Cleanup(func() {
		os.Args = originalArguments
	})
	return cli.NewApplication().Execute()
}

func writeTestWorkspace(testInstance *testing.T) string {
	testInstance.Helper()
	root := testInstance.TempDir()
	require.NoError(testInstance, os.WriteFile(filepath.Join(root, "monorun.yaml"), []byte(testWorkspaceDeclarationConstant), 0o644))
	manifests := map[string]string{
		"core": "name: core\nscripts:\n  build: echo core > out.txt\n",
		"app":  "name: app\ndependencies: [core]\nscripts:\n  build: echo app > out.txt\n",
	}
	for name, manifest := range manifests {
		packageRoot := filepath.Join(root, "packages", name)
		require.NoError(testInstance, os.MkdirAll(packageRoot, 0o755))
		require.NoError(testInstance, os.WriteFile(filepath.Join(packageRoot, "package.yaml"), []byte(manifest), 0o644))
	}
	return root
}

func TestApplicationConfigurationInitializationCreatesConfiguration(testInstance *testing.T) {
	embeddedConfigurationContent, _ := cli.EmbeddedDefaultConfiguration()
	require.NotEmpty(testInstance, embeddedConfigurationContent)

	testCases := []struct {
		name      string
		arguments []string
		expected  func(workingDirectory string, homeDirectory string) string
	}{
		{
			name:      "LocalScope",
			arguments: []string{"--init"},
			expected: func(workingDirectory string, _ string) string {
				return filepath.Join(workingDirectory, testConfigurationFileNameConstant)
			},
		},
		{
			name:      "UserScope",
			arguments: []string{"--init=user"},
			expected: func(_ string, homeDirectory string) string {
				return filepath.Join(homeDirectory, testUserConfigurationDirectoryNameConstant, testConfigurationFileNameConstant)
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			homeDirectory := isolateConfiguration(testInstance)
			workingDirectory := testInstance.TempDir()
			changeWorkingDirectory(testInstance, workingDirectory)

			require.NoError(testInstance, executeWithArguments(testInstance, testCase.arguments...))

			fileContent, readError := os.ReadFile(testCase.expected(workingDirectory, homeDirectory))
			require.NoError(testInstance, readError)
			require.Equal(testInstance, embeddedConfigurationContent, fileContent)
		})
	}
}

func TestApplicationConfigurationInitializationForceHandling(testInstance *testing.T) {
	embeddedConfigurationContent, _ := cli.EmbeddedDefaultConfiguration()

	testCases := []struct {
		name        string
		arguments   []string
		expectError bool
	}{
		{name: "ForceRequired", arguments: []string{"--init"}, expectError: true},
		{name: "ForceEnabled", arguments: []string{"--init", "--force"}, expectError: false},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			isolateConfiguration(testInstance)
			workingDirectory := testInstance.TempDir()
			changeWorkingDirectory(testInstance, workingDirectory)
			configurationPath := filepath.Join(workingDirectory, testConfigurationFileNameConstant)
			require.NoError(testInstance, os.WriteFile(configurationPath, []byte(testExistingConfigurationContentConstant), 0o600))

			executionError := executeWithArguments(testInstance, testCase.arguments...)
			fileContent, readError := os.ReadFile(configurationPath)
			require.NoError(testInstance, readError)

			if testCase.expectError {
				require.ErrorContains(testInstance, executionError, "already exists")
				var exitError cli.ExitError
				require.True(testInstance, errors.As(executionError, &exitError))
				require.Equal(testInstance, 2, exitError.ExitCode())
				require.Equal(testInstance, testExistingConfigurationContentConstant, string(fileContent))
				return
			}
			require.NoError(testInstance, executionError)
			require.Equal(testInstance, embeddedConfigurationContent, fileContent)
		})
	}
}

func TestApplicationConfigurationSearchPaths(testInstance *testing.T) {
	testCases := []struct {
		name                 string
		createWorking        bool
		createXDG            bool
		createHome           bool
		expectedDirectoryKey string
	}{
		{name: "WorkingDirectoryPreferred", createWorking: true, createXDG: true, createHome: true, expectedDirectoryKey: "working"},
		{name: "XDGDirectoryFallback", createXDG: true, createHome: true, expectedDirectoryKey: "xdg"},
		{name: "HomeDirectoryFallback", createHome: true, expectedDirectoryKey: "home"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			homeDirectory := isolateConfiguration(testInstance)
			workingDirectory := testInstance.TempDir()
			changeWorkingDirectory(testInstance, workingDirectory)

			directories := map[string]string{
				"working": workingDirectory,
				"xdg":     filepath.Join(homeDirectory, testXDGConfigHomeDirectoryNameConstant, testUserConfigurationDirectoryNameConstant),
				"home":    filepath.Join(homeDirectory, testUserConfigurationDirectoryNameConstant),
			}
			creations := map[string]bool{"working": testCase.createWorking, "xdg": testCase.createXDG, "home": testCase.createHome}
			for key, directory := range directories {
				if !creations[key] {
					continue
				}
				require.NoError(testInstance, os.MkdirAll(directory, 0o755))
				require.NoError(testInstance, os.WriteFile(filepath.Join(directory, testConfigurationFileNameConstant), []byte(testExistingConfigurationContentConstant), 0o600))
			}

			application := cli.NewApplication()
			require.NoError(testInstance, application.InitializeForCommand("run"))

			expectedPath := resolveSymlinkedPath(testInstance, filepath.Join(directories[testCase.expectedDirectoryKey], testConfigurationFileNameConstant))
			require.Equal(testInstance, expectedPath, resolveSymlinkedPath(testInstance, application.ConfigFileUsed()))
		})
	}
}

func TestApplicationRunExecutesWorkspace(testInstance *testing.T) {
	isolateConfiguration(testInstance)
	root := writeTestWorkspace(testInstance)

	require.NoError(testInstance, executeWithArguments(testInstance, "run", "build", "--cwd", root, "--output-logs", "none"))

	for _, packageName := range []string{"core", "app"} {
		content, readError := os.ReadFile(filepath.Join(root, "packages", packageName, "out.txt"))
		require.NoError(testInstance, readError)
		require.Equal(testInstance, packageName+"\n", string(content))
	}
	require.FileExists(testInstance, filepath.Join(root, ".monorun", "history.db"))
	require.DirExists(testInstance, filepath.Join(root, ".monorun", "cache"))

	require.NoError(testInstance, os.Remove(filepath.Join(root, "packages", "core", "out.txt")))
	require.NoError(testInstance, executeWithArguments(testInstance, "run", "build", "--cwd", root, "--output-logs", "none"))
	restored, readError := os.ReadFile(filepath.Join(root, "packages", "core", "out.txt"))
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "core\n", string(restored))
}

func TestApplicationExitCodes(testInstance *testing.T) {
	testCases := []struct {
		name         string
		arguments    func(root string) []string
		expectedCode int
	}{
		{
			name:         "InvalidFilter",
			arguments:    func(root string) []string { return []string{"run", "build", "--cwd", root, "--filter", "[main"} },
			expectedCode: 2,
		},
		{
			name:         "MissingTasks",
			arguments:    func(root string) []string { return []string{"run", "--cwd", root} },
			expectedCode: 2,
		},
		{
			name:         "UnknownTask",
			arguments:    func(root string) []string { return []string{"graph", "deploy", "--cwd", root} },
			expectedCode: 1,
		},
		{
			name:         "InvalidLogLevel",
			arguments:    func(root string) []string { return []string{"graph", "build", "--cwd", root, "--log-level", "loud"} },
			expectedCode: 2,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			isolateConfiguration(testInstance)
			root := writeTestWorkspace(testInstance)

			executionError := executeWithArguments(testInstance, testCase.arguments(root)...)
			var exitError cli.ExitError
			require.True(testInstance, errors.As(executionError, &exitError), "unexpected error %v", executionError)
			require.Equal(testInstance, testCase.expectedCode, exitError.ExitCode())
		})
	}
}

func resolveSymlinkedPath(testInstance testing.TB, candidatePath string) string {
	testInstance.Helper()
	resolvedPath, resolveError := filepath.EvalSymlinks(candidatePath)
	if resolveError != nil {
		return candidatePath
	}
	return resolvedPath
}
