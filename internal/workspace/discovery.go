package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/monorun/internal/pipeline"
)

const (
	// PackageManifestFileName is the per-package manifest.
	PackageManifestFileName = "package.yaml"
	// GoModuleFileName marks Go module packages.
	GoModuleFileName = "go.mod"

	packagePatternErrorTemplate  = "invalid workspace package pattern %q: %w"
	manifestReadErrorTemplate    = "failed to read %s: %w"
	manifestParseErrorTemplate   = "failed to parse %s: %w"
	goModuleParseErrorTemplate   = "failed to parse %s: %w"
	packageNameMissingTemplate   = "package at %s declares no name"
	workspaceRootMissingTemplate = "workspace root %s is not a directory"
)

type packageManifest struct {
	Name         string                           `yaml:"name"`
	Dependencies []string                         `yaml:"dependencies"`
	Scripts      map[string]string                `yaml:"scripts"`
	Pipeline     map[string]pipeline.TaskOverride `yaml:"pipeline"`
}

// Discover walks the directories matched by the package patterns and builds the workspace graph.
// A directory becomes a package when it carries package.yaml, go.mod, or both.
func Discover(root string, patterns []string) (*Graph, error) {
	absoluteRoot, absoluteError := filepath.Abs(root)
	if absoluteError != nil {
		return nil, absoluteError
	}
	rootInfo, statError := os.Stat(absoluteRoot)
	if statError != nil || !rootInfo.IsDir() {
		return nil, fmt.Errorf(workspaceRootMissingTemplate, absoluteRoot)
	}

	workspaceFileSystem := os.DirFS(absoluteRoot)
	candidateDirectories := make(map[string]struct{})
	for _, pattern := range patterns {
		cleanedPattern := path.Clean(filepath.ToSlash(pattern))
		if !doublestar.ValidatePattern(cleanedPattern) {
			return nil, fmt.Errorf(packagePatternErrorTemplate, pattern, doublestar.ErrBadPattern)
		}
		directoryMatches, globError := globDirectories(workspaceFileSystem, cleanedPattern)
		if globError != nil {
			return nil, fmt.Errorf(packagePatternErrorTemplate, pattern, globError)
		}
		for _, match := range directoryMatches {
			candidateDirectories[match] = struct{}{}
		}
	}

	relativeDirectories := make([]string, 0, len(candidateDirectories))
	for directory := range candidateDirectories {
		relativeDirectories = append(relativeDirectories, directory)
	}
	sort.Strings(relativeDirectories)

	type discoveredPackage struct {
		workspacePackage Package
		moduleRequires   []string
	}
	discovered := make([]discoveredPackage, 0, len(relativeDirectories))
	for _, relativeDirectory := range relativeDirectories {
		packageRoot := filepath.Join(absoluteRoot, filepath.FromSlash(relativeDirectory))
		workspacePackage, moduleRequires, found, loadError := loadPackage(packageRoot)
		if loadError != nil {
			return nil, loadError
		}
		if !found {
			continue
		}
		workspacePackage.RelativeRoot = relativeDirectory
		discovered = append(discovered, discoveredPackage{workspacePackage: workspacePackage, moduleRequires: moduleRequires})
	}

	knownNames := make(map[string]struct{}, len(discovered))
	for _, candidate := range discovered {
		knownNames[candidate.workspacePackage.Name] = struct{}{}
	}

	packages := make([]Package, 0, len(discovered))
	for _, candidate := range discovered {
		workspacePackage := candidate.workspacePackage
		for _, modulePath := range candidate.moduleRequires {
			if _, known := knownNames[modulePath]; known {
				workspacePackage.Dependencies = append(workspacePackage.Dependencies, modulePath)
			}
		}
		packages = append(packages, workspacePackage)
	}

	return NewGraph(absoluteRoot, packages)
}

func globDirectories(workspaceFileSystem fs.FS, pattern string) ([]string, error) {
	matches, globError := doublestar.Glob(workspaceFileSystem, pattern, doublestar.WithNoFollow())
	if globError != nil {
		return nil, globError
	}
	directories := make([]string, 0, len(matches))
	for _, match := range matches {
		info, statError := fs.Stat(workspaceFileSystem, match)
		if statError != nil || !info.IsDir() {
			continue
		}
		directories = append(directories, match)
	}
	return directories, nil
}

func loadPackage(packageRoot string) (Package, []string, bool, error) {
	workspacePackage := Package{
		Root:              packageRoot,
		Scripts:           map[string]string{},
		PipelineOverrides: map[string]pipeline.TaskOverride{},
	}

	manifest, manifestFound, manifestError := readPackageManifest(filepath.Join(packageRoot, PackageManifestFileName))
	if manifestError != nil {
		return Package{}, nil, false, manifestError
	}
	modulePath, moduleRequires, moduleFound, moduleError := readGoModule(filepath.Join(packageRoot, GoModuleFileName))
	if moduleError != nil {
		return Package{}, nil, false, moduleError
	}
	if !manifestFound && !moduleFound {
		return Package{}, nil, false, nil
	}

	if manifestFound {
		workspacePackage.Name = manifest.Name
		workspacePackage.Dependencies = append(workspacePackage.Dependencies, manifest.Dependencies...)
		for scriptName, command := range manifest.Scripts {
			workspacePackage.Scripts[scriptName] = command
		}
		for taskName, override := range manifest.Pipeline {
			workspacePackage.PipelineOverrides[taskName] = override
		}
	}
	if len(workspacePackage.Name) == 0 {
		workspacePackage.Name = modulePath
	}
	if len(workspacePackage.Name) == 0 {
		return Package{}, nil, false, fmt.Errorf(packageNameMissingTemplate, packageRoot)
	}

	return workspacePackage, moduleRequires, true, nil
}

func readPackageManifest(manifestPath string) (packageManifest, bool, error) {
	contentBytes, readError := os.ReadFile(manifestPath)
	if readError != nil {
		if errors.Is(readError, os.ErrNotExist) {
			return packageManifest{}, false, nil
		}
		return packageManifest{}, false, fmt.Errorf(manifestReadErrorTemplate, manifestPath, readError)
	}

	var manifest packageManifest
	decoder := yaml.NewDecoder(bytes.NewReader(contentBytes))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&manifest); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return packageManifest{}, false, fmt.Errorf(manifestParseErrorTemplate, manifestPath, decodeError)
	}
	return manifest, true, nil
}

func readGoModule(modulePath string) (string, []string, bool, error) {
	contentBytes, readError := os.ReadFile(modulePath)
	if readError != nil {
		if errors.Is(readError, os.ErrNotExist) {
			return "", nil, false, nil
		}
		return "", nil, false, fmt.Errorf(manifestReadErrorTemplate, modulePath, readError)
	}

	parsed, parseError := modfile.ParseLax(modulePath, contentBytes, nil)
	if parseError != nil {
		return "", nil, false, fmt.Errorf(goModuleParseErrorTemplate, modulePath, parseError)
	}
	moduleName := ""
	if parsed.Module != nil {
		moduleName = parsed.Module.Mod.Path
	}
	requires := make([]string, 0, len(parsed.Require))
	for _, requirement := range parsed.Require {
		requires = append(requires, requirement.Mod.Path)
	}
	return moduleName, requires, true, nil
}
