// Package metrics records task and cache outcomes of a run.
package metrics

import "time"

// Recorder receives scheduler and cache observations.
type Recorder interface {
	ObserveTaskDuration(task string, status string, duration time.Duration)
	IncTaskResult(status string)
	ObserveCacheRequest(source string, result string)
	SetRunningTasks(count int)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) ObserveTaskDuration(string, string, time.Duration) {}
func (NoopRecorder) IncTaskResult(string)                              {}
func (NoopRecorder) ObserveCacheRequest(string, string)                {}
func (NoopRecorder) SetRunningTasks(int)                               {}
