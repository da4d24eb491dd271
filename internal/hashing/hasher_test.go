package hashing_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/hashing"
	"github.com/tyemirov/monorun/internal/pipeline"
	"github.com/tyemirov/monorun/internal/taskgraph"
	"github.com/tyemirov/monorun/internal/workspace"
)

type hashingFixture struct {
	root        string
	graph       *taskgraph.Graph
	environment map[string]string
}

func writeFixtureFile(testInstance *testing.T, root string, relativePath string, content string) {
	testInstance.Helper()
	absolutePath := filepath.Join(root, filepath.FromSlash(relativePath))
	require.NoError(testInstance, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
	require.NoError(testInstance, os.WriteFile(absolutePath, []byte(content), 0o644))
}

func newHashingFixture(testInstance *testing.T) *hashingFixture {
	testInstance.Helper()
	root := testInstance.TempDir()
	writeFixtureFile(testInstance, root, "tsconfig.json", "{}\n")
	writeFixtureFile(testInstance, root, "packages/core/src/core.go", "package core\n")
	writeFixtureFile(testInstance, root, "packages/core/README.md", "core\n")
	writeFixtureFile(testInstance, root, "packages/core/dist/core.bin", "binary\n")
	writeFixtureFile(testInstance, root, "packages/app/src/app.go", "package app\n")
	writeFixtureFile(testInstance, root, "packages/app/src/notes.md", "notes\n")

	appInputs := []string{"src/**", "!src/**/*.md"}
	workspaceGraph, graphError := workspace.NewGraph(root, []workspace.Package{
		{Name: "core", Root: filepath.Join(root, "packages", "core"), Scripts: map[string]string{"build": "go build"}},
		{
			Name:              "app",
			Root:              filepath.Join(root, "packages", "app"),
			Dependencies:      []string{"core"},
			Scripts:           map[string]string{"build": "go build"},
			PipelineOverrides: map[string]pipeline.TaskOverride{"build": {Inputs: &appInputs}},
		},
	})
	require.NoError(testInstance, graphError)

	declaration, parseError := pipeline.ParseDeclaration([]byte("tasks:\n  build:\n    dependsOn: [\"^build\"]\n    outputs: [dist/**]\n    env: [TARGET]\n"))
	require.NoError(testInstance, parseError)

	graph, buildError := taskgraph.NewBuilder(workspaceGraph, declaration).Build([]string{"build"})
	require.NoError(testInstance, buildError)

	return &hashingFixture{root: root, graph: graph, environment: map[string]string{"TARGET": "linux"}}
}

func (fixture *hashingFixture) hash(testInstance *testing.T) map[taskgraph.NodeID]hashing.Fingerprint {
	testInstance.Helper()
	hasher := hashing.NewHasher(hashing.Options{
		WorkspaceRoot:         fixture.root,
		GlobalDependencies:    []string{"tsconfig.json"},
		GlobalEnvironmentKeys: []string{"CI"},
		GlobalDotEnv:          []string{".env"},
		ExcludedDirectories:   []string{".monorun/cache"},
		Concurrency:           2,
		LookupEnvironment: func(key string) (string, bool) {
			value, present := fixture.environment[key]
			return value, present
		},
	})
	fingerprints, hashError := hasher.HashGraph(context.Background(), fixture.graph)
	require.NoError(testInstance, hashError)
	return fingerprints
}

var (
	coreBuild = taskgraph.NodeID{Package: "core", Task: "build"}
	appBuild  = taskgraph.NodeID{Package: "app", Task: "build"}
)

func TestHasherIsDeterministic(testInstance *testing.T) {
	fixture := newHashingFixture(testInstance)
	first := fixture.hash(testInstance)
	second := fixture.hash(testInstance)

	require.Equal(testInstance, first[coreBuild].Hash, second[coreBuild].Hash)
	require.Equal(testInstance, first[appBuild].Hash, second[appBuild].Hash)
	require.Len(testInstance, first[coreBuild].Hash, 64)
	require.NotEqual(testInstance, first[coreBuild].Hash, first[appBuild].Hash)
}

func TestHasherInputSelection(testInstance *testing.T) {
	fixture := newHashingFixture(testInstance)
	fingerprints := fixture.hash(testInstance)

	corePaths := make([]string, 0)
	for _, inputFile := range fingerprints[coreBuild].InputFiles {
		corePaths = append(corePaths, inputFile.Path)
	}
	require.Equal(testInstance, []string{"README.md", "src/core.go"}, corePaths)

	appPaths := make([]string, 0)
	for _, inputFile := range fingerprints[appBuild].InputFiles {
		appPaths = append(appPaths, inputFile.Path)
	}
	require.Equal(testInstance, []string{"src/app.go"}, appPaths)
}

func TestHasherChangeSensitivity(testInstance *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(*testing.T, *hashingFixture)
		coreChanges bool
		appChanges  bool
	}{
		{
			name: "upstream input propagates downstream",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, "packages/core/src/core.go", "package core\n\nconst X = 1\n")
			},
			coreChanges: true,
			appChanges:  true,
		},
		{
			name: "downstream input stays local",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, "packages/app/src/app.go", "package app\n\nconst Y = 2\n")
			},
			coreChanges: false,
			appChanges:  true,
		},
		{
			name: "negated input is ignored",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, "packages/app/src/notes.md", "changed\n")
			},
		},
		{
			name: "output file is ignored by default inputs",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, "packages/core/dist/core.bin", "rebuilt\n")
			},
		},
		{
			name: "task environment",
			mutate: func(_ *testing.T, fixture *hashingFixture) {
				fixture.environment["TARGET"] = "darwin"
			},
			coreChanges: true,
			appChanges:  true,
		},
		{
			name: "unset environment differs from empty",
			mutate: func(_ *testing.T, fixture *hashingFixture) {
				fixture.environment["CI"] = ""
			},
			coreChanges: true,
			appChanges:  true,
		},
		{
			name: "global dependency",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, "tsconfig.json", "{\"strict\": true}\n")
			},
			coreChanges: true,
			appChanges:  true,
		},
		{
			name: "global dotenv",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, ".env", "API=1\n")
			},
			coreChanges: true,
			appChanges:  true,
		},
		{
			name: "excluded cache directory",
			mutate: func(subtest *testing.T, fixture *hashingFixture) {
				writeFixtureFile(subtest, fixture.root, ".monorun/cache/ab/entry", "x\n")
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			fixture := newHashingFixture(subtest)
			before := fixture.hash(subtest)
			testCase.mutate(subtest, fixture)
			after := fixture.hash(subtest)

			require.Equal(subtest, testCase.coreChanges, before[coreBuild].Hash != after[coreBuild].Hash, "core hash change")
			require.Equal(subtest, testCase.appChanges, before[appBuild].Hash != after[appBuild].Hash, "app hash change")
		})
	}
}

func TestHasherExportsDotEnvironment(testInstance *testing.T) {
	fixture := newHashingFixture(testInstance)
	writeFixtureFile(testInstance, fixture.root, ".env", "SHARED=global\n")
	fingerprints := fixture.hash(testInstance)
	require.Equal(testInstance, "global", fingerprints[appBuild].DotEnvironment["SHARED"])
}

func TestHasherRequiresUpstreamHashes(testInstance *testing.T) {
	fixture := newHashingFixture(testInstance)
	hasher := hashing.NewHasher(hashing.Options{WorkspaceRoot: fixture.root})
	node, _ := fixture.graph.Node(appBuild)
	_, hashError := hasher.HashNode(context.Background(), node, map[taskgraph.NodeID]string{})
	require.Error(testInstance, hashError)
}

func TestHasherPanicsOnDeterminismViolation(testInstance *testing.T) {
	fixture := newHashingFixture(testInstance)
	hasher := hashing.NewHasher(hashing.Options{WorkspaceRoot: fixture.root})
	node, _ := fixture.graph.Node(coreBuild)

	_, firstError := hasher.HashNode(context.Background(), node, nil)
	require.NoError(testInstance, firstError)
	_, repeatError := hasher.HashNode(context.Background(), node, nil)
	require.NoError(testInstance, repeatError)

	writeFixtureFile(testInstance, fixture.root, "packages/core/src/core.go", "package core\n\nvar drift = true\n")
	var recovered any
	func() {
		defer func() {
			recovered = recover()
		}()
		_, _ = hasher.HashNode(context.Background(), node, nil)
	}()

	violation, isViolation := recovered.(hashing.DeterminismViolation)
	require.True(testInstance, isViolation)
	require.Equal(testInstance, "core:build", violation.Node)
	require.NotEqual(testInstance, violation.First, violation.Second)
}
