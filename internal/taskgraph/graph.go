package taskgraph

import (
	"sort"
)

// Graph is the validated, acyclic task graph. Node identity and edges are fixed after construction.
type Graph struct {
	nodes      map[NodeID]*Node
	order      []NodeID
	dependents map[NodeID][]NodeID
	satisfied  map[NodeID]string
}

// Stage groups nodes whose dependencies all belong to earlier stages.
type Stage struct {
	Nodes []*Node
}

func newGraph(nodes map[NodeID]*Node) *Graph {
	graph := &Graph{
		nodes:      nodes,
		order:      make([]NodeID, 0, len(nodes)),
		dependents: make(map[NodeID][]NodeID, len(nodes)),
		satisfied:  make(map[NodeID]string),
	}
	for identifier := range nodes {
		graph.order = append(graph.order, identifier)
	}
	sortNodeIDs(graph.order)
	for _, identifier := range graph.order {
		for _, dependency := range nodes[identifier].Dependencies {
			graph.dependents[dependency] = append(graph.dependents[dependency], identifier)
		}
	}
	return graph
}

// Len returns the number of nodes.
func (graph *Graph) Len() int {
	return len(graph.order)
}

// IDs returns node identifiers sorted by package then task.
func (graph *Graph) IDs() []NodeID {
	return append([]NodeID(nil), graph.order...)
}

// Node returns the node with the provided identifier.
func (graph *Graph) Node(identifier NodeID) (*Node, bool) {
	node, exists := graph.nodes[identifier]
	return node, exists
}

// Dependencies returns the upstream nodes of identifier.
func (graph *Graph) Dependencies(identifier NodeID) []NodeID {
	node, exists := graph.nodes[identifier]
	if !exists {
		return nil
	}
	return append([]NodeID(nil), node.Dependencies...)
}

// Dependents returns the downstream nodes of identifier.
func (graph *Graph) Dependents(identifier NodeID) []NodeID {
	return append([]NodeID(nil), graph.dependents[identifier]...)
}

// Stages layers the graph topologically; nodes in a stage may run in parallel.
func (graph *Graph) Stages() []Stage {
	stages, _ := graph.planStages()
	return stages
}

// TopologicalOrder returns every node after all of its dependencies.
func (graph *Graph) TopologicalOrder() []NodeID {
	stages, _ := graph.planStages()
	ordered := make([]NodeID, 0, len(graph.order))
	for _, stage := range stages {
		for _, node := range stage.Nodes {
			ordered = append(ordered, node.ID)
		}
	}
	return ordered
}

// SatisfiedHash returns the cache hash of a dependency pruned from the graph.
func (graph *Graph) SatisfiedHash(identifier NodeID) (string, bool) {
	hash, satisfied := graph.satisfied[identifier]
	return hash, satisfied
}

// SatisfiedHashes returns a copy of the hashes of every pruned dependency.
func (graph *Graph) SatisfiedHashes() map[NodeID]string {
	hashes := make(map[NodeID]string, len(graph.satisfied))
	for identifier, hash := range graph.satisfied {
		hashes[identifier] = hash
	}
	return hashes
}

// Roots returns the nodes of the requested tasks in the selected packages.
func (graph *Graph) Roots(packageNames []string, taskNames []string) []NodeID {
	packageSet := toSet(packageNames)
	taskSet := toSet(taskNames)

	roots := make([]NodeID, 0)
	for _, identifier := range graph.order {
		if _, packageSelected := packageSet[identifier.Package]; !packageSelected {
			continue
		}
		if _, taskSelected := taskSet[identifier.Task]; !taskSelected {
			continue
		}
		roots = append(roots, identifier)
	}
	return roots
}

// Select narrows the graph to the nodes of the requested tasks in the selected packages and every
// node upstream of them, so no edge points outside the result.
func (graph *Graph) Select(packageNames []string, taskNames []string) *Graph {
	roots := graph.Roots(packageNames, taskNames)
	selected := make(map[NodeID]struct{}, len(roots))
	queue := make([]NodeID, 0, len(roots))
	for _, identifier := range roots {
		selected[identifier] = struct{}{}
		queue = append(queue, identifier)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependency := range graph.nodes[current].Dependencies {
			if _, seen := selected[dependency]; seen {
				continue
			}
			selected[dependency] = struct{}{}
			queue = append(queue, dependency)
		}
	}
	return graph.subgraph(selected, nil)
}

// PruneSatisfied keeps the roots and drops upstream nodes whose results are already cached.
// satisfied reports the cache hash of a node when a valid entry exists for it. A node it rejects
// stays in the graph and its own dependencies are examined in turn.
func (graph *Graph) PruneSatisfied(roots []NodeID, satisfied func(NodeID) (string, bool)) *Graph {
	kept := make(map[NodeID]struct{}, len(roots))
	pruned := make(map[NodeID]string)
	queue := make([]NodeID, 0, len(roots))
	for _, identifier := range roots {
		if _, exists := graph.nodes[identifier]; !exists {
			continue
		}
		kept[identifier] = struct{}{}
		queue = append(queue, identifier)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependency := range graph.nodes[current].Dependencies {
			if _, seen := kept[dependency]; seen {
				continue
			}
			if _, seen := pruned[dependency]; seen {
				continue
			}
			if hash, cached := satisfied(dependency); cached {
				pruned[dependency] = hash
				continue
			}
			kept[dependency] = struct{}{}
			queue = append(queue, dependency)
		}
	}
	return graph.subgraph(kept, pruned)
}

// subgraph copies the kept nodes. Edges to pruned nodes move to Node.Pruned; any other edge
// leaving the kept set must not exist.
func (graph *Graph) subgraph(kept map[NodeID]struct{}, pruned map[NodeID]string) *Graph {
	nodes := make(map[NodeID]*Node, len(kept))
	for identifier := range kept {
		original := graph.nodes[identifier]
		copied := *original
		copied.Dependencies = make([]NodeID, 0, len(original.Dependencies))
		copied.Pruned = append([]NodeID(nil), original.Pruned...)
		for _, dependency := range original.Dependencies {
			if _, retained := kept[dependency]; retained {
				copied.Dependencies = append(copied.Dependencies, dependency)
				continue
			}
			if _, satisfied := pruned[dependency]; satisfied {
				copied.Pruned = append(copied.Pruned, dependency)
			}
		}
		sortNodeIDs(copied.Pruned)
		nodes[identifier] = &copied
	}

	subgraph := newGraph(nodes)
	for identifier, hash := range graph.satisfied {
		subgraph.satisfied[identifier] = hash
	}
	for identifier, hash := range pruned {
		subgraph.satisfied[identifier] = hash
	}
	return subgraph
}

func (graph *Graph) validate() error {
	for _, identifier := range graph.order {
		for _, dependency := range graph.nodes[identifier].Dependencies {
			upstream, exists := graph.nodes[dependency]
			if !exists {
				return MissingTaskError{Package: dependency.Package, Task: dependency.Task, Referrer: identifier}
			}
			if upstream.Definition.Persistent {
				return PersistentDependencyError{Dependent: identifier, Persistent: dependency}
			}
		}
	}
	if _, cycleError := graph.planStages(); cycleError != nil {
		return cycleError
	}
	return nil
}

func (graph *Graph) planStages() ([]Stage, error) {
	if len(graph.order) == 0 {
		return nil, nil
	}

	inDegree := make(map[NodeID]int, len(graph.order))
	for _, identifier := range graph.order {
		inDegree[identifier] = len(graph.nodes[identifier].Dependencies)
	}

	ready := make([]NodeID, 0)
	for _, identifier := range graph.order {
		if inDegree[identifier] == 0 {
			ready = append(ready, identifier)
		}
	}

	stages := make([]Stage, 0)
	processed := 0
	for len(ready) > 0 {
		stageIdentifiers := ready
		ready = nil

		stage := Stage{Nodes: make([]*Node, 0, len(stageIdentifiers))}
		for _, identifier := range stageIdentifiers {
			stage.Nodes = append(stage.Nodes, graph.nodes[identifier])
			processed++
		}
		stages = append(stages, stage)

		for _, identifier := range stageIdentifiers {
			for _, dependent := range graph.dependents[identifier] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
		sortNodeIDs(ready)
	}

	if processed != len(graph.order) {
		return nil, CycleError{Nodes: graph.cycleMembers(inDegree)}
	}
	return stages, nil
}

// cycleMembers trims nodes that merely sit downstream of a cycle from the Kahn remainder.
func (graph *Graph) cycleMembers(inDegree map[NodeID]int) []NodeID {
	remaining := make(map[NodeID]struct{})
	for identifier, degree := range inDegree {
		if degree > 0 {
			remaining[identifier] = struct{}{}
		}
	}

	for {
		trimmed := false
		for identifier := range remaining {
			feedsRemaining := false
			for _, dependent := range graph.dependents[identifier] {
				if _, stillRemaining := remaining[dependent]; stillRemaining {
					feedsRemaining = true
					break
				}
			}
			if !feedsRemaining {
				delete(remaining, identifier)
				trimmed = true
			}
		}
		if !trimmed {
			break
		}
	}

	members := make([]NodeID, 0, len(remaining))
	for identifier := range remaining {
		members = append(members, identifier)
	}
	sortNodeIDs(members)
	return members
}

func sortNodeIDs(identifiers []NodeID) {
	sort.Slice(identifiers, func(leftIndex int, rightIndex int) bool {
		return lessNodeID(identifiers[leftIndex], identifiers[rightIndex])
	})
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
