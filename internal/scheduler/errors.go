package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrHasherNotConfigured indicates the hasher dependency was missing.
	ErrHasherNotConfigured = errors.New("scheduler hasher not configured")
	// ErrStoreNotConfigured indicates the cache store dependency was missing.
	ErrStoreNotConfigured = errors.New("scheduler cache store not configured")
	// ErrExecutorNotConfigured indicates the command executor dependency was missing.
	ErrExecutorNotConfigured = errors.New("scheduler executor not configured")
)

// PersistentConcurrencyError reports that persistent tasks would occupy every worker.
type PersistentConcurrencyError struct {
	Persistent  int
	Concurrency int
	Required    int
}

func (concurrencyError PersistentConcurrencyError) Error() string {
	return fmt.Sprintf("%d persistent tasks cannot run with concurrency %d; set concurrency to at least %d",
		concurrencyError.Persistent, concurrencyError.Concurrency, concurrencyError.Required)
}

// ErrRunStopped marks tasks that never started because the run stopped early.
var ErrRunStopped = errors.New("run stopped before the task started")

// DependencyFailedError marks a task skipped because an upstream task failed.
type DependencyFailedError struct {
	Dependency string
}

func (dependencyError DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency %s failed", dependencyError.Dependency)
}
