package taskgraph

import (
	"sort"
	"strings"

	"github.com/tyemirov/monorun/internal/pipeline"
	"github.com/tyemirov/monorun/internal/workspace"
)

// Builder expands the workspace graph and pipeline declaration into task nodes and edges.
type Builder struct {
	workspaceGraph *workspace.Graph
	declaration    pipeline.Declaration
	definitions    map[NodeID]resolvedTask
}

type resolvedTask struct {
	definition pipeline.TaskDefinition
	command    string
	inherited  bool
	present    bool
}

// NewBuilder constructs a Builder.
func NewBuilder(workspaceGraph *workspace.Graph, declaration pipeline.Declaration) *Builder {
	return &Builder{
		workspaceGraph: workspaceGraph,
		declaration:    declaration,
		definitions:    make(map[NodeID]resolvedTask),
	}
}

// TaskNames lists every task declared globally, by package overrides, or as package scripts.
func (builder *Builder) TaskNames() []string {
	unique := make(map[string]struct{})
	for _, taskName := range builder.declaration.TaskNames() {
		unique[taskName] = struct{}{}
	}
	for _, packageName := range builder.workspaceGraph.Names() {
		workspacePackage, _ := builder.workspaceGraph.Package(packageName)
		for _, scriptName := range workspacePackage.ScriptNames() {
			unique[scriptName] = struct{}{}
		}
		for taskName := range workspacePackage.PipelineOverrides {
			unique[taskName] = struct{}{}
		}
	}
	names := make([]string, 0, len(unique))
	for taskName := range unique {
		names = append(names, taskName)
	}
	sort.Strings(names)
	return names
}

// Build creates the nodes for the requested tasks in every package declaring them, plus every
// node reachable through their dependency specifiers, then validates the result.
func (builder *Builder) Build(taskNames []string) (*Graph, error) {
	queue := make([]NodeID, 0)
	for _, taskName := range taskNames {
		foundAnywhere := false
		for _, packageName := range builder.workspaceGraph.Names() {
			identifier := NodeID{Package: packageName, Task: taskName}
			resolved, resolveError := builder.resolve(identifier)
			if resolveError != nil {
				return nil, resolveError
			}
			if resolved.present {
				foundAnywhere = true
				queue = append(queue, identifier)
			}
		}
		if !foundAnywhere {
			return nil, UnknownTaskError{Task: taskName}
		}
	}

	nodes := make(map[NodeID]*Node)
	for len(queue) > 0 {
		identifier := queue[0]
		queue = queue[1:]
		if _, built := nodes[identifier]; built {
			continue
		}

		resolved, resolveError := builder.resolve(identifier)
		if resolveError != nil {
			return nil, resolveError
		}
		workspacePackage, _ := builder.workspaceGraph.Package(identifier.Package)
		node := &Node{
			ID:           identifier,
			PackageRoot:  workspacePackage.Root,
			RelativeRoot: workspacePackage.RelativeRoot,
			Definition:   resolved.definition,
			Command:      resolved.command,
			Inherited:    resolved.inherited,
		}

		dependencies, dependencyError := builder.expandDependencies(identifier, resolved.definition.DependsOn)
		if dependencyError != nil {
			return nil, dependencyError
		}
		node.Dependencies = dependencies
		nodes[identifier] = node
		queue = append(queue, dependencies...)
	}

	graph := newGraph(nodes)
	if validationError := graph.validate(); validationError != nil {
		return nil, validationError
	}
	return graph, nil
}

func (builder *Builder) expandDependencies(identifier NodeID, specifiers []pipeline.DependencySpecifier) ([]NodeID, error) {
	unique := make(map[NodeID]struct{})
	for _, specifier := range specifiers {
		switch specifier.Kind {
		case pipeline.DependencySamePackage:
			target := NodeID{Package: identifier.Package, Task: specifier.Task}
			resolved, resolveError := builder.resolve(target)
			if resolveError != nil {
				return nil, resolveError
			}
			if !resolved.present {
				if specifier.Soft {
					continue
				}
				return nil, MissingTaskError{Package: identifier.Package, Task: specifier.Task, Referrer: identifier}
			}
			unique[target] = struct{}{}
		case pipeline.DependencyAllDependencies:
			targets, expansionError := builder.dependencyPackageTargets(identifier.Package, specifier.Task, map[string]struct{}{identifier.Package: {}})
			if expansionError != nil {
				return nil, expansionError
			}
			for _, target := range targets {
				unique[target] = struct{}{}
			}
		}
	}

	dependencies := make([]NodeID, 0, len(unique))
	for target := range unique {
		dependencies = append(dependencies, target)
	}
	sort.Slice(dependencies, func(leftIndex int, rightIndex int) bool {
		return lessNodeID(dependencies[leftIndex], dependencies[rightIndex])
	})
	return dependencies, nil
}

// dependencyPackageTargets returns the task in each direct dependency package. Packages lacking
// the task are passed through to their own dependencies so the chain is not broken.
func (builder *Builder) dependencyPackageTargets(packageName string, taskName string, visited map[string]struct{}) ([]NodeID, error) {
	targets := make([]NodeID, 0)
	for _, dependencyName := range builder.workspaceGraph.Dependencies(packageName) {
		if _, seen := visited[dependencyName]; seen {
			continue
		}
		visited[dependencyName] = struct{}{}

		target := NodeID{Package: dependencyName, Task: taskName}
		resolved, resolveError := builder.resolve(target)
		if resolveError != nil {
			return nil, resolveError
		}
		if resolved.present {
			targets = append(targets, target)
			continue
		}
		transitiveTargets, transitiveError := builder.dependencyPackageTargets(dependencyName, taskName, visited)
		if transitiveError != nil {
			return nil, transitiveError
		}
		targets = append(targets, transitiveTargets...)
	}
	return targets, nil
}

func (builder *Builder) resolve(identifier NodeID) (resolvedTask, error) {
	if cached, exists := builder.definitions[identifier]; exists {
		return cached, nil
	}

	workspacePackage, packageExists := builder.workspaceGraph.Package(identifier.Package)
	if !packageExists {
		builder.definitions[identifier] = resolvedTask{}
		return resolvedTask{}, nil
	}

	definition, _, resolveError := builder.declaration.Resolve(identifier.Task, workspacePackage.PipelineOverrides)
	if resolveError != nil {
		return resolvedTask{}, resolveError
	}

	resolved := resolvedTask{definition: definition}
	if script, hasScript := workspacePackage.Script(identifier.Task); hasScript {
		resolved.command = strings.TrimSpace(script)
		resolved.present = true
	} else if len(definition.Command) > 0 {
		resolved.command = definition.Command
		resolved.inherited = true
		resolved.present = true
	}

	builder.definitions[identifier] = resolved
	return resolved, nil
}
