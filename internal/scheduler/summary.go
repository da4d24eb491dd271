package scheduler

import (
	"time"

	"github.com/tyemirov/monorun/internal/taskgraph"
)

// Summary reports the outcome of a run in topological order.
type Summary struct {
	Results   []TaskResult
	StartedAt time.Time
	Duration  time.Duration
	// Interrupted is set when the run context was cancelled.
	Interrupted bool
}

// Count returns the number of results with the status.
func (summary Summary) Count(status Status) int {
	count := 0
	for _, result := range summary.Results {
		if result.Status == status {
			count++
		}
	}
	return count
}

// Failed reports whether any task failed or the run was interrupted.
func (summary Summary) Failed() bool {
	return summary.Interrupted || summary.Count(StatusFailed) > 0
}

// AllCached reports whether every task was replayed from the cache.
func (summary Summary) AllCached() bool {
	return len(summary.Results) > 0 && summary.Count(StatusCached) == len(summary.Results)
}

// Result returns the outcome of one node.
func (summary Summary) Result(identifier taskgraph.NodeID) (TaskResult, bool) {
	for _, result := range summary.Results {
		if result.ID == identifier {
			return result, true
		}
	}
	return TaskResult{}, false
}

// Failures returns the failed results.
func (summary Summary) Failures() []TaskResult {
	var failures []TaskResult
	for _, result := range summary.Results {
		if result.Status == StatusFailed {
			failures = append(failures, result)
		}
	}
	return failures
}

// SavedDuration totals the original execution time of replayed tasks.
func (summary Summary) SavedDuration() time.Duration {
	var saved time.Duration
	for _, result := range summary.Results {
		saved += result.SavedDuration
	}
	return saved
}
