// Package taskgraph expands a workspace graph and pipeline declaration into a graph of task nodes.
package taskgraph

import (
	"fmt"
	"strings"

	"github.com/tyemirov/monorun/internal/pipeline"
)

const nodeIdentifierSeparatorConstant = ":"

// NodeID identifies a task node as a package and task name pair.
type NodeID struct {
	Package string
	Task    string
}

// String renders the identifier as package:task.
func (identifier NodeID) String() string {
	return identifier.Package + nodeIdentifierSeparatorConstant + identifier.Task
}

// ParseNodeID converts a package:task string into a NodeID. The last separator splits the pair.
func ParseNodeID(raw string) (NodeID, error) {
	separatorIndex := strings.LastIndex(raw, nodeIdentifierSeparatorConstant)
	if separatorIndex <= 0 || separatorIndex == len(raw)-1 {
		return NodeID{}, fmt.Errorf("invalid task identifier %q: expected package:task", raw)
	}
	return NodeID{Package: raw[:separatorIndex], Task: raw[separatorIndex+1:]}, nil
}

func lessNodeID(left NodeID, right NodeID) bool {
	if left.Package != right.Package {
		return left.Package < right.Package
	}
	return left.Task < right.Task
}

// Node is one schedulable unit: a task of a package.
type Node struct {
	ID NodeID
	// PackageRoot is the absolute package directory the command runs in.
	PackageRoot string
	// RelativeRoot is the package directory relative to the workspace root.
	RelativeRoot string
	Definition   pipeline.TaskDefinition
	Command      string
	// Inherited marks commands taken from the pipeline declaration rather than a package script.
	Inherited    bool
	Dependencies []NodeID
	// Pruned lists dependencies removed from the graph because a cache entry already satisfies them.
	// Their hashes still feed the fingerprint of the node.
	Pruned []NodeID
}

// Upstream returns every dependency that contributes to the node fingerprint, scheduled or pruned,
// sorted by package then task.
func (node *Node) Upstream() []NodeID {
	upstream := make([]NodeID, 0, len(node.Dependencies)+len(node.Pruned))
	upstream = append(upstream, node.Dependencies...)
	upstream = append(upstream, node.Pruned...)
	sortNodeIDs(upstream)
	return upstream
}
