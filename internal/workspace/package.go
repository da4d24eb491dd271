// Package workspace models the packages of a monorepo and the dependency edges between them.
package workspace

import (
	"sort"

	"github.com/tyemirov/monorun/internal/pipeline"
)

// Package is a workspace member discovered from its manifest.
type Package struct {
	Name string
	// Root is the absolute package directory.
	Root string
	// RelativeRoot is the slash-separated package directory relative to the workspace root.
	RelativeRoot string
	Dependencies []string
	Scripts      map[string]string
	// PipelineOverrides holds per-package task declarations layered over the workspace pipeline.
	PipelineOverrides map[string]pipeline.TaskOverride
}

// Script returns the command declared for the named script.
func (workspacePackage Package) Script(name string) (string, bool) {
	command, exists := workspacePackage.Scripts[name]
	return command, exists
}

// ScriptNames returns the declared script names in sorted order.
func (workspacePackage Package) ScriptNames() []string {
	names := make([]string, 0, len(workspacePackage.Scripts))
	for name := range workspacePackage.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
