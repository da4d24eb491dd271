package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/workspace"
)

func writeWorkspaceFile(testInstance *testing.T, root string, relativePath string, content string) {
	testInstance.Helper()
	absolutePath := filepath.Join(root, filepath.FromSlash(relativePath))
	require.NoError(testInstance, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
	require.NoError(testInstance, os.WriteFile(absolutePath, []byte(content), 0o644))
}

func TestDiscoverBuildsGraphFromManifests(testInstance *testing.T) {
	workspaceRoot := testInstance.TempDir()
	writeWorkspaceFile(testInstance, workspaceRoot, "packages/core/package.yaml", "name: core\nscripts:\n  build: echo core\n")
	writeWorkspaceFile(testInstance, workspaceRoot, "packages/lib/package.yaml", "name: lib\ndependencies: [core, left-pad]\nscripts:\n  build: echo lib\npipeline:\n  build:\n    outputs: [out/**]\n")
	writeWorkspaceFile(testInstance, workspaceRoot, "apps/app/package.yaml", "name: app\ndependencies: [lib]\nscripts:\n  build: echo app\n  dev: echo dev\n")
	writeWorkspaceFile(testInstance, workspaceRoot, "apps/tool/go.mod", "module example.com/tool\n\ngo 1.22\n\nrequire (\n\texample.com/shared v0.0.0\n\tgithub.com/external/dep v1.0.0\n)\n")
	writeWorkspaceFile(testInstance, workspaceRoot, "packages/shared/go.mod", "module example.com/shared\n\ngo 1.22\n")
	writeWorkspaceFile(testInstance, workspaceRoot, "packages/empty/README.md", "no manifest\n")

	graph, discoverError := workspace.Discover(workspaceRoot, []string{"packages/*", "apps/*"})
	require.NoError(testInstance, discoverError)

	require.Equal(testInstance, []string{"app", "core", "example.com/shared", "example.com/tool", "lib"}, graph.Names())
	require.Equal(testInstance, []string{"core"}, graph.Dependencies("lib"))
	require.Equal(testInstance, []string{"lib"}, graph.Dependencies("app"))
	require.Equal(testInstance, []string{"example.com/shared"}, graph.Dependencies("example.com/tool"))
	require.Equal(testInstance, []string{"lib"}, graph.Dependents("core"))

	lib, exists := graph.Package("lib")
	require.True(testInstance, exists)
	require.Equal(testInstance, "packages/lib", lib.RelativeRoot)
	require.Contains(testInstance, lib.PipelineOverrides, "build")
	command, hasScript := lib.Script("build")
	require.True(testInstance, hasScript)
	require.Equal(testInstance, "echo lib", command)

	app, _ := graph.Package("app")
	require.Equal(testInstance, []string{"build", "dev"}, app.ScriptNames())
}

func TestDiscoverRejectsDuplicateNames(testInstance *testing.T) {
	workspaceRoot := testInstance.TempDir()
	writeWorkspaceFile(testInstance, workspaceRoot, "packages/a/package.yaml", "name: same\n")
	writeWorkspaceFile(testInstance, workspaceRoot, "apps/b/package.yaml", "name: same\n")

	_, discoverError := workspace.Discover(workspaceRoot, []string{"packages/*", "apps/*"})
	var duplicateError workspace.DuplicatePackageError
	require.ErrorAs(testInstance, discoverError, &duplicateError)
	require.Equal(testInstance, "same", duplicateError.Name)
}

func TestDiscoverRejectsInvalidManifest(testInstance *testing.T) {
	workspaceRoot := testInstance.TempDir()
	writeWorkspaceFile(testInstance, workspaceRoot, "packages/a/package.yaml", "name: a\nunknown: true\n")

	_, discoverError := workspace.Discover(workspaceRoot, []string{"packages/*"})
	require.Error(testInstance, discoverError)
}

func TestGraphClosuresAndPathOwnership(testInstance *testing.T) {
	workspaceRoot := testInstance.TempDir()
	graph, graphError := workspace.NewGraph(workspaceRoot, []workspace.Package{
		{Name: "core", Root: filepath.Join(workspaceRoot, "packages", "core")},
		{Name: "lib", Root: filepath.Join(workspaceRoot, "packages", "lib"), Dependencies: []string{"core"}},
		{Name: "app", Root: filepath.Join(workspaceRoot, "apps", "app"), Dependencies: []string{"lib"}},
		{Name: "docs", Root: filepath.Join(workspaceRoot, "apps", "app", "docs")},
	})
	require.NoError(testInstance, graphError)

	require.Equal(testInstance, []string{"app", "core", "lib"}, graph.DependencyClosure([]string{"app"}))
	require.Equal(testInstance, []string{"app", "core", "lib"}, graph.DependentClosure([]string{"core"}))
	require.Equal(testInstance, []string{"core", "lib"}, graph.DependencyClosure([]string{"lib", "missing"}))

	testCases := []struct {
		name          string
		path          string
		expectedOwner string
		expectedFound bool
	}{
		{name: "relative file", path: "packages/lib/src/index.ts", expectedOwner: "lib", expectedFound: true},
		{name: "package root", path: "packages/core", expectedOwner: "core", expectedFound: true},
		{name: "nested package wins", path: "apps/app/docs/readme.md", expectedOwner: "docs", expectedFound: true},
		{name: "absolute path", path: filepath.Join(workspaceRoot, "apps", "app", "main.go"), expectedOwner: "app", expectedFound: true},
		{name: "prefix is not ownership", path: "packages/library/file.go", expectedFound: false},
		{name: "root file", path: "monorun.yaml", expectedFound: false},
	}
	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			owner, found := graph.PackageForPath(testCase.path)
			require.Equal(subtest, testCase.expectedFound, found)
			require.Equal(subtest, testCase.expectedOwner, owner)
		})
	}
}
