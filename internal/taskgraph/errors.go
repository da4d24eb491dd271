package taskgraph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTask indicates a requested task is not declared by any package.
var ErrUnknownTask = errors.New("task not found in any workspace package")

// MissingTaskError reports a same-package dependency on a task the package does not declare.
type MissingTaskError struct {
	Package  string
	Task     string
	Referrer NodeID
}

// Error implements the error interface.
func (missingError MissingTaskError) Error() string {
	return fmt.Sprintf("%s depends on %s, but package %q has no task %q", missingError.Referrer, NodeID{Package: missingError.Package, Task: missingError.Task}, missingError.Package, missingError.Task)
}

// CycleError reports the task nodes participating in a dependency cycle.
type CycleError struct {
	Nodes []NodeID
}

// Error implements the error interface.
func (cycleError CycleError) Error() string {
	rendered := make([]string, 0, len(cycleError.Nodes))
	for _, node := range cycleError.Nodes {
		rendered = append(rendered, node.String())
	}
	return fmt.Sprintf("task graph contains a cycle among %s", strings.Join(rendered, ", "))
}

// PersistentDependencyError reports a task waiting on a task that never completes.
type PersistentDependencyError struct {
	Dependent  NodeID
	Persistent NodeID
}

// Error implements the error interface.
func (persistentError PersistentDependencyError) Error() string {
	return fmt.Sprintf("%s depends on persistent task %s, which never completes", persistentError.Dependent, persistentError.Persistent)
}

// UnknownTaskError names a requested task missing from the workspace.
type UnknownTaskError struct {
	Task string
}

// Error implements the error interface.
func (unknownError UnknownTaskError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownTask.Error(), unknownError.Task)
}

// Unwrap exposes ErrUnknownTask.
func (unknownError UnknownTaskError) Unwrap() error {
	return ErrUnknownTask
}
