package scheduler

import (
	"context"

	"github.com/tyemirov/monorun/internal/taskgraph"
)

// PlannedTask describes what a run would do for one node without executing anything.
type PlannedTask struct {
	ID           taskgraph.NodeID
	Hash         string
	Command      string
	Directory    string
	Cacheable    bool
	Persistent   bool
	CacheHit     bool
	InputFiles   int
	Dependencies []taskgraph.NodeID
}

// Plan hashes every node in topological order and reports its cache status.
func (scheduler *Scheduler) Plan(executionContext context.Context, graph *taskgraph.Graph) ([]PlannedTask, error) {
	hashes := graph.SatisfiedHashes()
	planned := make([]PlannedTask, 0, graph.Len())
	for _, identifier := range graph.TopologicalOrder() {
		node, _ := graph.Node(identifier)
		fingerprint, hashError := scheduler.hasher.HashNode(executionContext, node, hashes)
		if hashError != nil {
			return nil, hashError
		}
		hashes[identifier] = fingerprint.Hash

		task := PlannedTask{
			ID:           identifier,
			Hash:         fingerprint.Hash,
			Command:      node.Command,
			Directory:    node.RelativeRoot,
			Cacheable:    node.Definition.Cacheable,
			Persistent:   node.Definition.Persistent,
			InputFiles:   len(fingerprint.InputFiles),
			Dependencies: append([]taskgraph.NodeID(nil), node.Dependencies...),
		}
		if task.Cacheable && !scheduler.options.Force {
			_, task.CacheHit = scheduler.lookup(executionContext, node, fingerprint.Hash)
		}
		planned = append(planned, task)
	}
	return planned, nil
}
