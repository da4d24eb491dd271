package scheduler

import (
	"time"

	"github.com/tyemirov/monorun/internal/taskgraph"
)

// runState is owned by the coordinating goroutine of Run; workers never touch it.
// A dispatched node stays ready until its worker reports a cache miss.
type runState struct {
	graph      *taskgraph.Graph
	order      []taskgraph.NodeID
	position   map[taskgraph.NodeID]int
	remaining  map[taskgraph.NodeID]int
	statuses   map[taskgraph.NodeID]Status
	results    map[taskgraph.NodeID]TaskResult
	hashes     map[taskgraph.NodeID]string
	ready      []taskgraph.NodeID
	dispatched map[taskgraph.NodeID]struct{}
}

func newRunState(graph *taskgraph.Graph) *runState {
	order := graph.TopologicalOrder()
	state := &runState{
		graph:      graph,
		order:      order,
		position:   make(map[taskgraph.NodeID]int, len(order)),
		remaining:  make(map[taskgraph.NodeID]int, len(order)),
		statuses:   make(map[taskgraph.NodeID]Status, len(order)),
		results:    make(map[taskgraph.NodeID]TaskResult, len(order)),
		hashes:     make(map[taskgraph.NodeID]string, len(order)),
		dispatched: make(map[taskgraph.NodeID]struct{}, len(order)),
	}
	for index, identifier := range order {
		state.position[identifier] = index
		state.remaining[identifier] = len(graph.Dependencies(identifier))
		state.statuses[identifier] = StatusPending
	}
	for _, identifier := range order {
		if state.remaining[identifier] == 0 {
			state.markReady(identifier)
		}
	}
	return state
}

func (state *runState) markReady(identifier taskgraph.NodeID) {
	state.statuses[identifier] = StatusReady
	state.ready = append(state.ready, identifier)
}

// nextReady pops the ready node earliest in topological order.
func (state *runState) nextReady() (*taskgraph.Node, bool) {
	if len(state.ready) == 0 {
		return nil, false
	}
	selected := 0
	for index := 1; index < len(state.ready); index++ {
		if state.position[state.ready[index]] < state.position[state.ready[selected]] {
			selected = index
		}
	}
	identifier := state.ready[selected]
	state.ready = append(state.ready[:selected], state.ready[selected+1:]...)
	node, _ := state.graph.Node(identifier)
	return node, true
}

func (state *runState) markDispatched(identifier taskgraph.NodeID) {
	state.dispatched[identifier] = struct{}{}
}

// markRunning moves a dispatched ready node to running. A report arriving after completion is ignored.
func (state *runState) markRunning(identifier taskgraph.NodeID) bool {
	if state.statuses[identifier] != StatusReady {
		return false
	}
	state.statuses[identifier] = StatusRunning
	return true
}

func (state *runState) notStarted(identifier taskgraph.NodeID) bool {
	switch state.statuses[identifier] {
	case StatusPending:
		return true
	case StatusReady:
		_, dispatched := state.dispatched[identifier]
		return !dispatched
	default:
		return false
	}
}

func (state *runState) upstreamHashes(node *taskgraph.Node) map[taskgraph.NodeID]string {
	dependencies := node.Upstream()
	upstream := make(map[taskgraph.NodeID]string, len(dependencies))
	for _, dependency := range dependencies {
		if hash, available := state.hashes[dependency]; available {
			upstream[dependency] = hash
			continue
		}
		if hash, satisfied := state.graph.SatisfiedHash(dependency); satisfied {
			upstream[dependency] = hash
		}
	}
	return upstream
}

func (state *runState) complete(result TaskResult) {
	state.statuses[result.ID] = result.Status
	state.results[result.ID] = result
	if len(result.Hash) > 0 {
		state.hashes[result.ID] = result.Hash
	}
	if !result.Status.Succeeded() {
		return
	}
	for _, dependent := range state.graph.Dependents(result.ID) {
		state.remaining[dependent]--
		if state.remaining[dependent] == 0 && state.statuses[dependent] == StatusPending {
			state.markReady(dependent)
		}
	}
}

// skipDependents marks every transitive dependent of a failed node that has not started.
func (state *runState) skipDependents(failed taskgraph.NodeID) []TaskResult {
	var skipped []TaskResult
	visited := map[taskgraph.NodeID]struct{}{failed: {}}
	queue := append([]taskgraph.NodeID(nil), state.graph.Dependents(failed)...)
	for len(queue) > 0 {
		identifier := queue[0]
		queue = queue[1:]
		if _, seen := visited[identifier]; seen {
			continue
		}
		visited[identifier] = struct{}{}
		if state.notStarted(identifier) {
			skipped = append(skipped, state.skip(identifier, DependencyFailedError{Dependency: failed.String()}))
		}
		queue = append(queue, state.graph.Dependents(identifier)...)
	}
	return skipped
}

// skipRemaining marks every node that never started.
func (state *runState) skipRemaining() []TaskResult {
	var skipped []TaskResult
	for _, identifier := range state.order {
		if state.notStarted(identifier) {
			skipped = append(skipped, state.skip(identifier, ErrRunStopped))
		}
	}
	return skipped
}

func (state *runState) skip(identifier taskgraph.NodeID, cause error) TaskResult {
	if state.statuses[identifier] == StatusReady {
		for index, candidate := range state.ready {
			if candidate == identifier {
				state.ready = append(state.ready[:index], state.ready[index+1:]...)
				break
			}
		}
	}
	result := TaskResult{ID: identifier, Status: StatusSkipped, Err: cause}
	state.statuses[identifier] = StatusSkipped
	state.results[identifier] = result
	return result
}

func (state *runState) summary(startedAt time.Time) Summary {
	results := make([]TaskResult, 0, len(state.order))
	for _, identifier := range state.order {
		results = append(results, state.results[identifier])
	}
	return Summary{Results: results, StartedAt: startedAt, Duration: time.Since(startedAt)}
}
