package taskrunner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/cache"
	"github.com/tyemirov/monorun/internal/execshell"
	"github.com/tyemirov/monorun/internal/filter"
	"github.com/tyemirov/monorun/internal/hashing"
	"github.com/tyemirov/monorun/internal/history"
	"github.com/tyemirov/monorun/internal/metrics"
	"github.com/tyemirov/monorun/internal/pipeline"
	"github.com/tyemirov/monorun/internal/scheduler"
	"github.com/tyemirov/monorun/internal/taskgraph"
	"github.com/tyemirov/monorun/internal/workspace"
)

const (
	// StateDirectoryName holds the default cache and history under the workspace root.
	StateDirectoryName       = ".monorun"
	defaultCacheDirectory    = "cache"
	defaultHistoryDatabase   = "history.db"
	declarationMissingEvent  = "pipeline_declaration_missing"
	workspaceDiscoveredEvent = "workspace_discovered"
	taskGraphBuiltEvent      = "task_graph_built"
	taskGraphPrunedEvent     = "task_graph_pruned"
	remoteCacheEnabledEvent  = "remote_cache_enabled"
	remoteCacheFailedEvent   = "remote_cache_connect_failed"
	metricsWriteFailedEvent  = "metrics_write_failed"
	historyFailedEvent       = "run_history_record_failed"
	rootFieldName            = "root"
	packagesFieldName        = "packages"
	nodesFieldName           = "nodes"
	prunedFieldName          = "pruned"
	backendFieldName         = "backend"
	pathFieldName            = "path"
	httpBackendName          = "http"
	natsBackendName          = "nats"
)

// ErrNoTasks indicates an invocation without task names.
var ErrNoTasks = errors.New("at least one task name is required")

// GraphOptions selects the task graph of an invocation.
type GraphOptions struct {
	WorkspaceRoot string
	Tasks         []string
	Filters       []string
	// Only drops dependency tasks outside the filtered packages when their cache entries already exist.
	Only bool
	// CacheDirectory is consulted by Only; relative paths resolve against the workspace root.
	CacheDirectory string
}

// RunOptions carries one run invocation.
type RunOptions struct {
	GraphOptions
	Concurrency       int
	ContinueOnFailure bool
	Force             bool
	DryRun            bool
	OutputLogs        string
	MetricsFile       string
	HistoryDatabase   string
	// Command is the invocation recorded in run history.
	Command string
}

// HistoryOptions selects recorded runs.
type HistoryOptions struct {
	WorkspaceRoot   string
	HistoryDatabase string
	Limit           int
}

// Outcome reports what a run did.
type Outcome struct {
	RunID   string
	Graph   *taskgraph.Graph
	Summary scheduler.Summary
	// Plan is set instead of Summary for dry runs.
	Plan []scheduler.PlannedTask
}

// Executor runs task graphs for an invocation.
type Executor interface {
	Run(ctx context.Context, options RunOptions) (Outcome, error)
}

// Factory constructs an Executor given run dependencies.
type Factory func(Dependencies) Executor

// Resolve returns either the provided factory result or the default runner, wrapped so the
// run summary is printed after every invocation.
func Resolve(factory Factory, dependencies Dependencies) Executor {
	var base Executor
	if factory != nil {
		base = factory(dependencies)
	}
	if base == nil {
		base = NewRunner(dependencies)
	}
	return summaryExecutor{delegate: base, dependencies: dependencies}
}

type summaryExecutor struct {
	delegate     Executor
	dependencies Dependencies
}

func (executor summaryExecutor) Run(ctx context.Context, options RunOptions) (Outcome, error) {
	outcome, err := executor.delegate.Run(ctx, options)
	executor.printSummary(outcome)
	return outcome, err
}

func (executor summaryExecutor) printSummary(outcome Outcome) {
	writer := executor.dependencies.Output
	if writer == nil {
		return
	}
	var rendered string
	switch {
	case outcome.Plan != nil:
		rendered = RenderPlan(outcome.Plan)
	case len(outcome.Summary.Results) > 0:
		rendered = RenderSummary(outcome.Summary)
	}
	if len(strings.TrimSpace(rendered)) == 0 {
		return
	}
	_, _ = io.WriteString(writer, rendered)
}

// Runner is the default Executor.
type Runner struct {
	dependencies Dependencies
	logger       *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(dependencies Dependencies) *Runner {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{dependencies: dependencies, logger: logger}
}

// Run loads the workspace, selects and schedules the task graph, and records the run.
func (runner *Runner) Run(ctx context.Context, options RunOptions) (Outcome, error) {
	startedAt := time.Now()
	outcome := Outcome{RunID: history.NewRunID()}

	outputLogs, outputLogsError := scheduler.ParseOutputLogsMode(options.OutputLogs)
	if outputLogsError != nil {
		return outcome, StageError{Stage: StageConfiguration, Err: outputLogsError}
	}

	prepared, prepareError := runner.prepare(ctx, options.GraphOptions)
	if prepareError != nil {
		return outcome, prepareError
	}
	outcome.Graph = prepared.graph

	recorder := metrics.Recorder(metrics.NoopRecorder{})
	var prometheusRecorder *metrics.PrometheusRecorder
	if len(options.MetricsFile) > 0 {
		prometheusRecorder = metrics.NewPrometheusRecorder(nil)
		recorder = prometheusRecorder
	}

	cacheDirectory := resolveStatePath(prepared.root, options.CacheDirectory, defaultCacheDirectory)
	store, closeStore, storeError := runner.resolveStore(ctx, cacheDirectory, recorder)
	if storeError != nil {
		return outcome, StageError{Stage: StageConfiguration, Err: storeError}
	}
	defer closeStore()

	if options.Only && !options.Force {
		prunedGraph, pruneError := runner.pruneSatisfied(ctx, prepared, runner.newHasher(prepared, cacheDirectory, options.Concurrency), store)
		if pruneError != nil {
			return outcome, StageError{Stage: StageExecution, Err: pruneError}
		}
		prepared.graph = prunedGraph
		outcome.Graph = prunedGraph
	}

	hasher := runner.newHasher(prepared, cacheDirectory, options.Concurrency)
	shellExecutor, executorError := execshell.NewShellExecutor(runner.logger, runner.commandRunner())
	if executorError != nil {
		return outcome, StageError{Stage: StageConfiguration, Err: executorError}
	}
	taskScheduler, schedulerError := scheduler.New(hasher, store, shellExecutor, scheduler.Options{
		Concurrency:       options.Concurrency,
		ContinueOnFailure: options.ContinueOnFailure,
		Force:             options.Force,
		OutputLogs:        outputLogs,
		Output:            runner.dependencies.Output,
		Logger:            runner.logger,
		Recorder:          recorder,
	})
	if schedulerError != nil {
		return outcome, StageError{Stage: StageConfiguration, Err: schedulerError}
	}

	if options.DryRun {
		plan, planError := taskScheduler.Plan(ctx, prepared.graph)
		if planError != nil {
			return outcome, StageError{Stage: StageExecution, Err: planError}
		}
		outcome.Plan = plan
		return outcome, nil
	}

	summary, runError := taskScheduler.Run(ctx, prepared.graph)
	if runError != nil {
		return outcome, StageError{Stage: StageConfiguration, Err: runError}
	}
	outcome.Summary = summary

	var failure error
	if summary.Failed() {
		failedTasks := make([]string, 0)
		for _, result := range summary.Failures() {
			failedTasks = append(failedTasks, result.ID.String())
		}
		failure = StageError{Stage: StageExecution, Err: TasksFailedError{Tasks: failedTasks, Interrupted: summary.Interrupted}}
	}

	if prometheusRecorder != nil {
		if writeError := prometheusRecorder.WriteTextfile(options.MetricsFile); writeError != nil {
			runner.logger.Warn(metricsWriteFailedEvent, zap.String(pathFieldName, options.MetricsFile), zap.Error(writeError))
		}
	}
	runner.recordHistory(resolveStatePath(prepared.root, options.HistoryDatabase, defaultHistoryDatabase), history.RunRecord{
		ID:         outcome.RunID,
		Command:    options.Command,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		ExitCode:   ExitCode(failure),
		Tasks:      taskRecords(summary),
	})
	return outcome, failure
}

// LoadGraph resolves the task graph of an invocation without running it.
func (runner *Runner) LoadGraph(ctx context.Context, options GraphOptions) (*taskgraph.Graph, error) {
	prepared, prepareError := runner.prepare(ctx, options)
	if prepareError != nil {
		return nil, prepareError
	}
	if !options.Only {
		return prepared.graph, nil
	}

	cacheDirectory := resolveStatePath(prepared.root, options.CacheDirectory, defaultCacheDirectory)
	store, closeStore, storeError := runner.resolveStore(ctx, cacheDirectory, metrics.NoopRecorder{})
	if storeError != nil {
		return nil, StageError{Stage: StageConfiguration, Err: storeError}
	}
	defer closeStore()
	prunedGraph, pruneError := runner.pruneSatisfied(ctx, prepared, runner.newHasher(prepared, cacheDirectory, 0), store)
	if pruneError != nil {
		return nil, StageError{Stage: StageExecution, Err: pruneError}
	}
	return prunedGraph, nil
}

type preparedRun struct {
	root        string
	declaration pipeline.Declaration
	graph       *taskgraph.Graph
	roots       []taskgraph.NodeID
}

func (runner *Runner) newHasher(prepared preparedRun, cacheDirectory string, concurrency int) *hashing.Hasher {
	return hashing.NewHasher(hashing.Options{
		WorkspaceRoot:         prepared.root,
		GlobalDependencies:    prepared.declaration.GlobalDependencies,
		GlobalEnvironmentKeys: prepared.declaration.GlobalEnvironmentKeys,
		GlobalDotEnv:          prepared.declaration.GlobalDotEnv,
		ExcludedDirectories:   excludedDirectories(prepared.root, cacheDirectory),
		Concurrency:           concurrency,
		LookupEnvironment:     runner.dependencies.LookupEnvironment,
		Logger:                runner.logger,
	})
}

// pruneSatisfied drops upstream tasks outside the selection whose results are already cached.
// Every node is hashed over the full selection first, so pruned hashes keep feeding downstream keys.
// The hasher must not be reused for scheduling: outputs written during the run may change later hashes.
func (runner *Runner) pruneSatisfied(ctx context.Context, prepared preparedRun, hasher *hashing.Hasher, store cache.Store) (*taskgraph.Graph, error) {
	fingerprints, hashError := hasher.HashGraph(ctx, prepared.graph)
	if hashError != nil {
		return nil, hashError
	}

	pruned := prepared.graph.PruneSatisfied(prepared.roots, func(identifier taskgraph.NodeID) (string, bool) {
		node, exists := prepared.graph.Node(identifier)
		if !exists || !node.Definition.Cacheable {
			return "", false
		}
		hash := fingerprints[identifier].Hash
		_, found, lookupError := store.Lookup(ctx, hash)
		if lookupError != nil || !found {
			return "", false
		}
		return hash, true
	})
	runner.logger.Debug(taskGraphPrunedEvent,
		zap.Int(nodesFieldName, pruned.Len()),
		zap.Int(prunedFieldName, prepared.graph.Len()-pruned.Len()),
	)
	return pruned, nil
}

func (runner *Runner) prepare(ctx context.Context, options GraphOptions) (preparedRun, error) {
	if len(options.Tasks) == 0 {
		return preparedRun{}, StageError{Stage: StageConfiguration, Err: ErrNoTasks}
	}
	root, rootError := filepath.Abs(options.WorkspaceRoot)
	if rootError != nil {
		return preparedRun{}, StageError{Stage: StageWorkspace, Err: rootError}
	}

	declaration, declarationError := pipeline.LoadDeclaration(root)
	if errors.Is(declarationError, pipeline.ErrDeclarationMissing) {
		runner.logger.Debug(declarationMissingEvent, zap.String(rootFieldName, root))
		declaration, declarationError = pipeline.ParseDeclaration(nil)
	}
	if declarationError != nil {
		return preparedRun{}, StageError{Stage: StageDeclaration, Err: declarationError}
	}

	workspaceGraph, discoveryError := workspace.Discover(root, declaration.Packages)
	if discoveryError != nil {
		return preparedRun{}, StageError{Stage: StageWorkspace, Err: discoveryError}
	}
	runner.logger.Debug(workspaceDiscoveredEvent, zap.String(rootFieldName, root), zap.Int(packagesFieldName, len(workspaceGraph.Names())))

	expressions, parseError := filter.ParseAll(options.Filters)
	if parseError != nil {
		return preparedRun{}, StageError{Stage: StageFilter, Err: parseError}
	}
	changedFiles := runner.dependencies.ChangedFiles
	if changedFiles == nil {
		changedFiles = &lazyRepository{workspaceRoot: root}
	}
	selectedPackages, selectError := filter.NewSelector(workspaceGraph, changedFiles, declaration.GlobalDependencies, runner.logger).Select(ctx, expressions)
	if selectError != nil {
		return preparedRun{}, StageError{Stage: StageFilter, Err: selectError}
	}

	fullGraph, buildError := taskgraph.NewBuilder(workspaceGraph, declaration).Build(options.Tasks)
	if buildError != nil {
		return preparedRun{}, StageError{Stage: StageGraph, Err: buildError}
	}
	graph := fullGraph.Select(selectedPackages, options.Tasks)
	runner.logger.Debug(taskGraphBuiltEvent, zap.Int(nodesFieldName, graph.Len()), zap.Strings(packagesFieldName, selectedPackages))

	return preparedRun{root: root, declaration: declaration, graph: graph, roots: graph.Roots(selectedPackages, options.Tasks)}, nil
}

// resolveStore builds the local tier plus the configured remote tier. A remote that cannot be
// reached is logged and skipped.
func (runner *Runner) resolveStore(ctx context.Context, cacheDirectory string, observer cache.RequestObserver) (cache.Store, func(), error) {
	noClose := func() {}
	if runner.dependencies.Store != nil {
		return runner.dependencies.Store, noClose, nil
	}
	local := cache.NewLocalStore(cacheDirectory, runner.logger)
	remoteOptions := runner.dependencies.RemoteCache

	switch {
	case len(strings.TrimSpace(remoteOptions.URL)) > 0:
		remote, remoteError := cache.NewHTTPRemote(cache.HTTPRemoteOptions{
			URL:     remoteOptions.URL,
			Token:   remoteOptions.Token,
			Team:    remoteOptions.Team,
			Timeout: remoteOptions.Timeout,
		})
		if remoteError != nil {
			return nil, noClose, remoteError
		}
		runner.logger.Debug(remoteCacheEnabledEvent, zap.String(backendFieldName, httpBackendName))
		return cache.NewTieredStore(local, remote, runner.logger, observer), noClose, nil
	case len(strings.TrimSpace(remoteOptions.NATSURL)) > 0:
		remote, remoteError := cache.NewNATSRemote(ctx, cache.NATSRemoteOptions{
			URL:    remoteOptions.NATSURL,
			Bucket: remoteOptions.NATSBucket,
			Team:   remoteOptions.Team,
		})
		if remoteError != nil {
			runner.logger.Warn(remoteCacheFailedEvent, zap.String(backendFieldName, natsBackendName), zap.Error(remoteError))
			return cache.NewTieredStore(local, nil, runner.logger, observer), noClose, nil
		}
		runner.logger.Debug(remoteCacheEnabledEvent, zap.String(backendFieldName, natsBackendName))
		return cache.NewTieredStore(local, remote, runner.logger, observer), func() { _ = remote.Close() }, nil
	default:
		return cache.NewTieredStore(local, nil, runner.logger, observer), noClose, nil
	}
}

func (runner *Runner) commandRunner() execshell.CommandRunner {
	if runner.dependencies.CommandRunner != nil {
		return runner.dependencies.CommandRunner
	}
	return execshell.NewProcessRunner()
}

func (runner *Runner) recordHistory(databasePath string, record history.RunRecord) {
	store, openError := history.OpenSQLiteStore(databasePath)
	if openError != nil {
		runner.logger.Warn(historyFailedEvent, zap.String(pathFieldName, databasePath), zap.Error(openError))
		return
	}
	defer store.Close()
	if recordError := store.Record(context.Background(), record); recordError != nil {
		runner.logger.Warn(historyFailedEvent, zap.String(pathFieldName, databasePath), zap.Error(recordError))
	}
}

// DefaultCacheDirectory returns the cache location used when none is configured.
func DefaultCacheDirectory(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, StateDirectoryName, defaultCacheDirectory)
}

// DefaultHistoryDatabase returns the history database used when none is configured.
func DefaultHistoryDatabase(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, StateDirectoryName, defaultHistoryDatabase)
}

// ResolveCacheDirectory resolves a configured cache directory against the workspace root.
func ResolveCacheDirectory(workspaceRoot string, configured string) string {
	return resolveStatePath(workspaceRoot, configured, defaultCacheDirectory)
}

// ResolveHistoryDatabase resolves a configured history database against the workspace root.
func ResolveHistoryDatabase(workspaceRoot string, configured string) string {
	return resolveStatePath(workspaceRoot, configured, defaultHistoryDatabase)
}

// History lists the most recent runs recorded in the history database, newest first.
func (runner *Runner) History(executionContext context.Context, options HistoryOptions) ([]history.RunRecord, error) {
	workspaceRoot, absoluteError := filepath.Abs(options.WorkspaceRoot)
	if absoluteError != nil {
		return nil, StageError{Stage: StageWorkspace, Err: absoluteError}
	}
	databasePath := ResolveHistoryDatabase(workspaceRoot, options.HistoryDatabase)
	if _, statError := os.Stat(databasePath); errors.Is(statError, fs.ErrNotExist) {
		return nil, nil
	}
	store, openError := history.OpenSQLiteStore(databasePath)
	if openError != nil {
		return nil, StageError{Stage: StageConfiguration, Err: openError}
	}
	defer store.Close()
	return store.List(executionContext, options.Limit)
}

// resolveStatePath resolves configured paths against the workspace root, defaulting into StateDirectoryName.
func resolveStatePath(workspaceRoot string, configured string, defaultName string) string {
	trimmed := strings.TrimSpace(configured)
	if len(trimmed) == 0 {
		return filepath.Join(workspaceRoot, StateDirectoryName, defaultName)
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Join(workspaceRoot, trimmed)
}

func excludedDirectories(workspaceRoot string, cacheDirectory string) []string {
	excluded := []string{StateDirectoryName}
	if relative, relativeError := filepath.Rel(workspaceRoot, cacheDirectory); relativeError == nil && !strings.HasPrefix(relative, "..") {
		excluded = append(excluded, filepath.ToSlash(relative))
	}
	return excluded
}

func taskRecords(summary scheduler.Summary) []history.TaskRecord {
	records := make([]history.TaskRecord, 0, len(summary.Results))
	for _, result := range summary.Results {
		records = append(records, history.TaskRecord{
			Node:     result.ID.String(),
			Status:   string(result.Status),
			Hash:     result.Hash,
			Duration: result.Duration,
		})
	}
	return records
}
