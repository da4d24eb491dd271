package workspace

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DuplicatePackageError reports two manifests declaring the same package name.
type DuplicatePackageError struct {
	Name       string
	FirstRoot  string
	SecondRoot string
}

// Error implements the error interface.
func (duplicateError DuplicatePackageError) Error() string {
	return fmt.Sprintf("workspace package %q declared by both %s and %s", duplicateError.Name, duplicateError.FirstRoot, duplicateError.SecondRoot)
}

// Graph is the immutable workspace dependency graph.
type Graph struct {
	root       string
	names      []string
	packages   map[string]Package
	dependents map[string][]string
}

// NewGraph validates packages and indexes their dependency edges.
// Dependencies naming packages outside the workspace are dropped.
func NewGraph(root string, packages []Package) (*Graph, error) {
	graph := &Graph{
		root:       filepath.Clean(root),
		packages:   make(map[string]Package, len(packages)),
		dependents: make(map[string][]string, len(packages)),
	}

	for _, workspacePackage := range packages {
		if len(strings.TrimSpace(workspacePackage.Name)) == 0 {
			return nil, fmt.Errorf("workspace package at %s has no name", workspacePackage.Root)
		}
		if existing, duplicate := graph.packages[workspacePackage.Name]; duplicate {
			return nil, DuplicatePackageError{Name: workspacePackage.Name, FirstRoot: existing.Root, SecondRoot: workspacePackage.Root}
		}
		graph.packages[workspacePackage.Name] = workspacePackage
		graph.names = append(graph.names, workspacePackage.Name)
	}
	sort.Strings(graph.names)

	for _, name := range graph.names {
		workspacePackage := graph.packages[name]
		filtered := make([]string, 0, len(workspacePackage.Dependencies))
		seen := make(map[string]struct{}, len(workspacePackage.Dependencies))
		for _, dependencyName := range workspacePackage.Dependencies {
			if dependencyName == name {
				continue
			}
			if _, known := graph.packages[dependencyName]; !known {
				continue
			}
			if _, alreadySeen := seen[dependencyName]; alreadySeen {
				continue
			}
			seen[dependencyName] = struct{}{}
			filtered = append(filtered, dependencyName)
			graph.dependents[dependencyName] = append(graph.dependents[dependencyName], name)
		}
		sort.Strings(filtered)
		workspacePackage.Dependencies = filtered
		if len(workspacePackage.RelativeRoot) == 0 {
			workspacePackage.RelativeRoot = graph.relativeRoot(workspacePackage.Root)
		}
		graph.packages[name] = workspacePackage
	}
	for name := range graph.dependents {
		sort.Strings(graph.dependents[name])
	}

	return graph, nil
}

// Root returns the workspace root directory.
func (graph *Graph) Root() string {
	return graph.root
}

// Names returns all package names in sorted order.
func (graph *Graph) Names() []string {
	return append([]string(nil), graph.names...)
}

// Package returns the named package.
func (graph *Graph) Package(name string) (Package, bool) {
	workspacePackage, exists := graph.packages[name]
	return workspacePackage, exists
}

// Dependencies returns the direct workspace dependencies of the named package.
func (graph *Graph) Dependencies(name string) []string {
	return append([]string(nil), graph.packages[name].Dependencies...)
}

// Dependents returns the packages that directly depend on the named package.
func (graph *Graph) Dependents(name string) []string {
	return append([]string(nil), graph.dependents[name]...)
}

// DependencyClosure returns the seeds plus everything they transitively depend on.
func (graph *Graph) DependencyClosure(seeds []string) []string {
	return graph.reachable(seeds, graph.Dependencies)
}

// DependentClosure returns the seeds plus everything that transitively depends on them.
func (graph *Graph) DependentClosure(seeds []string) []string {
	return graph.reachable(seeds, graph.Dependents)
}

// PackageForPath returns the package owning the workspace-relative or absolute path.
// Nested packages resolve to the deepest owning package.
func (graph *Graph) PackageForPath(candidatePath string) (string, bool) {
	relativePath := filepath.ToSlash(candidatePath)
	if filepath.IsAbs(candidatePath) {
		relativePath = graph.relativeRoot(candidatePath)
	}
	relativePath = path.Clean(relativePath)

	bestName := ""
	bestLength := -1
	for _, name := range graph.names {
		packageRoot := graph.packages[name].RelativeRoot
		if relativePath != packageRoot && !strings.HasPrefix(relativePath, packageRoot+"/") {
			continue
		}
		if len(packageRoot) > bestLength {
			bestName = name
			bestLength = len(packageRoot)
		}
	}
	return bestName, bestLength >= 0
}

func (graph *Graph) reachable(seeds []string, next func(string) []string) []string {
	visited := make(map[string]struct{}, len(seeds))
	queue := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if _, known := graph.packages[seed]; !known {
			continue
		}
		if _, seen := visited[seed]; seen {
			continue
		}
		visited[seed] = struct{}{}
		queue = append(queue, seed)
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range next(current) {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, neighbor)
		}
	}
	result := make([]string, 0, len(visited))
	for name := range visited {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (graph *Graph) relativeRoot(absolutePath string) string {
	relativePath, relativeError := filepath.Rel(graph.root, absolutePath)
	if relativeError != nil {
		return filepath.ToSlash(absolutePath)
	}
	return filepath.ToSlash(relativePath)
}
