// Package scheduler executes a task graph with a bounded worker pool, consulting the cache store
// before running each task.
package scheduler

import (
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/cache"
	"github.com/tyemirov/monorun/internal/execshell"
	"github.com/tyemirov/monorun/internal/hashing"
	"github.com/tyemirov/monorun/internal/metrics"
	"github.com/tyemirov/monorun/internal/taskgraph"
)

const (
	runStoppingEvent    = "run_stopping"
	taskSkippedEvent    = "task_skipped"
	reasonFieldName     = "reason"
	failedTaskFieldName = "failed_task"
	interruptedReason   = "interrupted"
	taskFailureReason   = "task_failed"
)

// Hasher fingerprints a node given the hashes of its dependencies.
type Hasher interface {
	HashNode(executionContext context.Context, node *taskgraph.Node, upstreamHashes map[taskgraph.NodeID]string) (hashing.Fingerprint, error)
}

// Executor runs a task command, streaming its output to the writer.
type Executor interface {
	Execute(executionContext context.Context, command execshell.TaskCommand, output io.Writer) (execshell.ExecutionResult, error)
}

// Options configures a Scheduler.
type Options struct {
	// Concurrency bounds the number of simultaneously running tasks. Zero uses the CPU count.
	Concurrency       int
	ContinueOnFailure bool
	// Force skips cache lookups; successful results are still written.
	Force      bool
	OutputLogs OutputLogsMode
	Output     io.Writer
	Logger     *zap.Logger
	Recorder   metrics.Recorder
}

// TaskResult is the terminal outcome of one node.
type TaskResult struct {
	ID       taskgraph.NodeID
	Status   Status
	Hash     string
	Duration time.Duration
	// SavedDuration is the original execution time of a replayed cache entry.
	SavedDuration time.Duration
	Err           error
}

// Scheduler runs task graphs.
type Scheduler struct {
	hasher   Hasher
	store    cache.Store
	executor Executor
	options  Options
	output   io.Writer
	logger   *zap.Logger
	recorder metrics.Recorder
}

type workItem struct {
	executionContext context.Context
	node             *taskgraph.Node
	upstreamHashes   map[taskgraph.NodeID]string
}

// workerEvent reports either a cache miss about to execute or a finished result. Events of one
// node arrive in that order because each worker sends both on the same channel.
type workerEvent struct {
	executing taskgraph.NodeID
	finished  bool
	result    TaskResult
}

// New constructs a Scheduler.
func New(hasher Hasher, store cache.Store, executor Executor, options Options) (*Scheduler, error) {
	if hasher == nil {
		return nil, ErrHasherNotConfigured
	}
	if store == nil {
		return nil, ErrStoreNotConfigured
	}
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if options.Concurrency <= 0 {
		options.Concurrency = runtime.NumCPU()
	}
	if len(options.OutputLogs) == 0 {
		options.OutputLogs = OutputLogsFull
	}
	output := options.Output
	if output == nil {
		output = io.Discard
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := options.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Scheduler{
		hasher:   hasher,
		store:    store,
		executor: executor,
		options:  options,
		output:   &lockedWriter{writer: output},
		logger:   logger,
		recorder: recorder,
	}, nil
}

// Run executes every node of the graph. Task failures are reported in the summary; the returned
// error covers only conditions that prevent the run from starting.
func (scheduler *Scheduler) Run(executionContext context.Context, graph *taskgraph.Graph) (Summary, error) {
	if capacityError := scheduler.checkPersistentCapacity(graph); capacityError != nil {
		return Summary{}, capacityError
	}

	startedAt := time.Now()
	state := newRunState(graph)

	persistentContext, stopPersistent := context.WithCancel(executionContext)
	defer stopPersistent()

	concurrency := scheduler.options.Concurrency
	workQueue := make(chan workItem, concurrency)
	events := make(chan workerEvent, 2*concurrency)
	var workers sync.WaitGroup
	for range concurrency {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for item := range workQueue {
				onExecute := func() { events <- workerEvent{executing: item.node.ID} }
				result := scheduler.runNode(item.executionContext, item.node, item.upstreamHashes, onExecute)
				events <- workerEvent{finished: true, result: result}
			}
		}()
	}
	defer func() {
		close(workQueue)
		workers.Wait()
	}()

	interrupted := executionContext.Done()
	stopping := false
	dispatched := 0
	running := 0
	for {
		for !stopping && dispatched < concurrency {
			node, available := state.nextReady()
			if !available {
				break
			}
			nodeContext := executionContext
			if node.Definition.Persistent {
				nodeContext = persistentContext
			}
			state.markDispatched(node.ID)
			dispatched++
			workQueue <- workItem{executionContext: nodeContext, node: node, upstreamHashes: state.upstreamHashes(node)}
		}
		if dispatched == 0 {
			break
		}

		select {
		case <-interrupted:
			interrupted = nil
			stopping = true
			scheduler.logger.Warn(runStoppingEvent, zap.String(reasonFieldName, interruptedReason))
		case event := <-events:
			if !event.finished {
				if state.markRunning(event.executing) {
					running++
					scheduler.recorder.SetRunningTasks(running)
				}
				continue
			}
			result := event.result
			dispatched--
			if state.statuses[result.ID] == StatusRunning {
				running--
				scheduler.recorder.SetRunningTasks(running)
			}
			scheduler.recordResult(result)
			state.complete(result)
			if result.Status != StatusFailed {
				continue
			}
			if scheduler.options.ContinueOnFailure {
				for _, skipped := range state.skipDependents(result.ID) {
					scheduler.recordResult(skipped)
					scheduler.logger.Info(taskSkippedEvent,
						zap.String(taskFieldName, skipped.ID.String()),
						zap.String(failedTaskFieldName, result.ID.String()),
					)
				}
				continue
			}
			if !stopping {
				stopping = true
				stopPersistent()
				scheduler.logger.Warn(runStoppingEvent,
					zap.String(reasonFieldName, taskFailureReason),
					zap.String(failedTaskFieldName, result.ID.String()),
				)
			}
		}
	}

	for _, skipped := range state.skipRemaining() {
		scheduler.recordResult(skipped)
	}
	summary := state.summary(startedAt)
	summary.Interrupted = executionContext.Err() != nil
	return summary, nil
}

func (scheduler *Scheduler) checkPersistentCapacity(graph *taskgraph.Graph) error {
	persistent := 0
	for _, identifier := range graph.IDs() {
		if node, found := graph.Node(identifier); found && node.Definition.Persistent {
			persistent++
		}
	}
	if persistent == 0 {
		return nil
	}
	required := persistent
	if persistent < graph.Len() {
		required++
	}
	if scheduler.options.Concurrency < required {
		return PersistentConcurrencyError{Persistent: persistent, Concurrency: scheduler.options.Concurrency, Required: required}
	}
	return nil
}

func (scheduler *Scheduler) recordResult(result TaskResult) {
	scheduler.recorder.IncTaskResult(string(result.Status))
	if result.Status != StatusSkipped {
		scheduler.recorder.ObserveTaskDuration(result.ID.Task, string(result.Status), result.Duration)
	}
}

// lockedWriter serializes line writes from concurrently running tasks.
type lockedWriter struct {
	mutex  sync.Mutex
	writer io.Writer
}

func (writer *lockedWriter) Write(content []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.writer.Write(content)
}
