package scheduler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/monorun/internal/cache"
	"github.com/tyemirov/monorun/internal/execshell"
	"github.com/tyemirov/monorun/internal/hashing"
	"github.com/tyemirov/monorun/internal/taskgraph"
)

const (
	taskHashFailedEvent            = "task_hash_failed"
	taskCacheHitEvent              = "task_cache_hit"
	taskCacheMissEvent             = "task_cache_miss"
	taskCacheLookupFailedEvent     = "task_cache_lookup_failed"
	taskCacheRestoreFailedEvent    = "task_cache_restore_failed"
	taskCacheInvalidatedEvent      = "task_cache_invalidated"
	taskCacheInvalidateFailedEvent = "task_cache_invalidate_failed"
	taskCacheWriteFailedEvent      = "task_cache_write_failed"
	taskOutputsCaptureFailedEvent  = "task_outputs_capture_failed"
	taskCompletedEvent             = "task_completed"
	taskFailedEvent                = "task_failed"
	taskFieldName                  = "task"
	hashFieldName                  = "hash"
	durationFieldName              = "duration"
	outputCountFieldName           = "outputs"

	cacheHitBannerTemplate     = "cache hit, replaying logs %s\n"
	cacheHitSuppressedTemplate = "cache hit, suppressing logs %s\n"
	cacheMissBannerTemplate    = "cache miss, executing %s\n"
	cacheBypassBannerTemplate  = "cache bypass, force executing %s\n"
	uncacheableBannerTemplate  = "cache disabled, executing %s\n"
)

// runNode hashes, replays or executes one node. It runs on a worker goroutine and calls onExecute
// before the command starts, so cache hits never pass through running.
func (scheduler *Scheduler) runNode(executionContext context.Context, node *taskgraph.Node, upstreamHashes map[taskgraph.NodeID]string, onExecute func()) TaskResult {
	startedAt := time.Now()
	result := TaskResult{ID: node.ID}

	fingerprint, hashError := scheduler.hasher.HashNode(executionContext, node, upstreamHashes)
	if hashError != nil {
		scheduler.logger.Error(taskHashFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.Error(hashError))
		result.Status = StatusFailed
		result.Err = hashError
		result.Duration = time.Since(startedAt)
		return result
	}
	result.Hash = fingerprint.Hash

	if node.Definition.Cacheable && !scheduler.options.Force {
		if entry, found := scheduler.lookup(executionContext, node, fingerprint.Hash); found {
			if scheduler.replay(node, entry) {
				result.Status = StatusCached
				result.SavedDuration = entry.Duration
				result.Duration = time.Since(startedAt)
				return result
			}
			scheduler.invalidate(executionContext, node, fingerprint.Hash)
		}
	}

	onExecute()
	return scheduler.execute(executionContext, node, fingerprint, startedAt)
}

func (scheduler *Scheduler) lookup(executionContext context.Context, node *taskgraph.Node, hash string) (cache.Entry, bool) {
	entry, found, lookupError := scheduler.store.Lookup(executionContext, hash)
	if lookupError != nil {
		scheduler.logger.Warn(taskCacheLookupFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.String(hashFieldName, hash), zap.Error(lookupError))
		return cache.Entry{}, false
	}
	if !found {
		scheduler.logger.Debug(taskCacheMissEvent, zap.String(taskFieldName, node.ID.String()), zap.String(hashFieldName, hash))
	}
	return entry, found
}

// replay restores the entry outputs and prints its logs. A failed restore falls back to execution.
func (scheduler *Scheduler) replay(node *taskgraph.Node, entry cache.Entry) bool {
	if restoreError := cache.RestoreOutputs(node.PackageRoot, entry.Outputs); restoreError != nil {
		scheduler.logger.Warn(taskCacheRestoreFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.String(hashFieldName, entry.Hash), zap.Error(restoreError))
		return false
	}
	scheduler.logger.Debug(taskCacheHitEvent,
		zap.String(taskFieldName, node.ID.String()),
		zap.String(hashFieldName, entry.Hash),
		zap.Int(outputCountFieldName, len(entry.Outputs)),
	)

	mode := scheduler.options.OutputLogs
	prefixWriter := execshell.NewPrefixWriter(scheduler.output, node.ID.String())
	switch {
	case mode.replaysCachedLogs():
		_, _ = fmt.Fprintf(prefixWriter, cacheHitBannerTemplate, entry.Hash)
		_, _ = prefixWriter.Write(entry.Logs)
	case mode.printsBanner():
		_, _ = fmt.Fprintf(prefixWriter, cacheHitSuppressedTemplate, entry.Hash)
	}
	_ = prefixWriter.Flush()
	return true
}

// invalidate drops an entry whose outputs failed verification so the re-execution can replace it.
func (scheduler *Scheduler) invalidate(executionContext context.Context, node *taskgraph.Node, hash string) {
	invalidator, supported := scheduler.store.(cache.Invalidator)
	if !supported {
		return
	}
	if invalidateError := invalidator.Invalidate(executionContext, hash); invalidateError != nil {
		scheduler.logger.Warn(taskCacheInvalidateFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.String(hashFieldName, hash), zap.Error(invalidateError))
		return
	}
	scheduler.logger.Debug(taskCacheInvalidatedEvent, zap.String(taskFieldName, node.ID.String()), zap.String(hashFieldName, hash))
}

func (scheduler *Scheduler) execute(executionContext context.Context, node *taskgraph.Node, fingerprint hashing.Fingerprint, startedAt time.Time) TaskResult {
	result := TaskResult{ID: node.ID, Hash: fingerprint.Hash}
	if len(strings.TrimSpace(node.Command)) == 0 {
		result.Status = StatusSuccess
		result.Duration = time.Since(startedAt)
		return result
	}

	mode := scheduler.options.OutputLogs
	prefixWriter := execshell.NewPrefixWriter(scheduler.output, node.ID.String())
	if mode.printsBanner() {
		bannerTemplate := cacheMissBannerTemplate
		switch {
		case !node.Definition.Cacheable:
			bannerTemplate = uncacheableBannerTemplate
		case scheduler.options.Force:
			bannerTemplate = cacheBypassBannerTemplate
		}
		_, _ = fmt.Fprintf(prefixWriter, bannerTemplate, fingerprint.Hash)
	}
	var stream io.Writer = io.Discard
	if mode.streamsExecution() {
		stream = prefixWriter
	}

	command := execshell.TaskCommand{
		Label:                node.ID.String(),
		Script:               node.Command,
		WorkingDirectory:     node.PackageRoot,
		EnvironmentVariables: fingerprint.DotEnvironment,
	}
	executionResult, executeError := scheduler.executor.Execute(executionContext, command, stream)
	result.Duration = time.Since(startedAt)
	if executeError != nil {
		if mode == OutputLogsErrorsOnly {
			_, _ = prefixWriter.Write(executionResult.Output)
		}
		_ = prefixWriter.Flush()
		scheduler.logger.Warn(taskFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.Duration(durationFieldName, result.Duration), zap.Error(executeError))
		result.Status = StatusFailed
		result.Err = executeError
		return result
	}
	_ = prefixWriter.Flush()

	result.Status = StatusSuccess
	scheduler.logger.Debug(taskCompletedEvent, zap.String(taskFieldName, node.ID.String()), zap.Duration(durationFieldName, result.Duration))
	if node.Definition.Cacheable && executionContext.Err() == nil {
		scheduler.writeEntry(executionContext, node, fingerprint.Hash, executionResult)
	}
	return result
}

// writeEntry commits a successful execution. Cacheable tasks without outputs store logs only.
// No entry is written when output capture fails, so a partial output set is never replayed.
func (scheduler *Scheduler) writeEntry(executionContext context.Context, node *taskgraph.Node, hash string, executionResult execshell.ExecutionResult) {
	outputs, captureError := cache.CaptureOutputs(node.PackageRoot, node.Definition.Outputs)
	if captureError != nil {
		scheduler.logger.Warn(taskOutputsCaptureFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.Error(captureError))
		return
	}
	entry := cache.Entry{Hash: hash, Logs: executionResult.Output, Outputs: outputs, Duration: executionResult.Duration}
	if writeError := scheduler.store.Write(executionContext, entry); writeError != nil {
		scheduler.logger.Warn(taskCacheWriteFailedEvent, zap.String(taskFieldName, node.ID.String()), zap.String(hashFieldName, hash), zap.Error(writeError))
	}
}
