package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace           = "monorun"
	taskLabel                  = "task"
	statusLabel                = "status"
	sourceLabel                = "source"
	resultLabel                = "result"
	textfileWriteErrorTemplate = "failed to write metrics textfile %s: %w"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry      *prom.Registry
	taskDuration  *prom.HistogramVec
	taskResults   *prom.CounterVec
	cacheRequests *prom.CounterVec
	runningTasks  prom.Gauge
}

// NewPrometheusRecorder constructs and registers the run metrics. A nil registry gets a fresh one.
func NewPrometheusRecorder(registry *prom.Registry) *PrometheusRecorder {
	if registry == nil {
		registry = prom.NewRegistry()
	}
	recorder := &PrometheusRecorder{
		registry: registry,
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task executions and cache replays",
			Buckets:   prom.DefBuckets,
		}, []string{taskLabel, statusLabel}),
		taskResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_results_total",
			Help:      "Task results by final status",
		}, []string{statusLabel}),
		cacheRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by tier and result",
		}, []string{sourceLabel, resultLabel}),
		runningTasks: prom.NewGauge(prom.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "running_tasks",
			Help:      "Tasks currently executing",
		}),
	}
	registry.MustRegister(recorder.taskDuration, recorder.taskResults, recorder.cacheRequests, recorder.runningTasks)
	return recorder
}

// Registry exposes the registry the metrics are registered with.
func (recorder *PrometheusRecorder) Registry() *prom.Registry {
	return recorder.registry
}

func (recorder *PrometheusRecorder) ObserveTaskDuration(task string, status string, duration time.Duration) {
	if recorder == nil {
		return
	}
	recorder.taskDuration.WithLabelValues(task, status).Observe(duration.Seconds())
}

func (recorder *PrometheusRecorder) IncTaskResult(status string) {
	if recorder == nil {
		return
	}
	recorder.taskResults.WithLabelValues(status).Inc()
}

// ObserveCacheRequest also satisfies cache.RequestObserver.
func (recorder *PrometheusRecorder) ObserveCacheRequest(source string, result string) {
	if recorder == nil {
		return
	}
	recorder.cacheRequests.WithLabelValues(source, result).Inc()
}

func (recorder *PrometheusRecorder) SetRunningTasks(count int) {
	if recorder == nil {
		return
	}
	recorder.runningTasks.Set(float64(count))
}

// WriteTextfile writes the gathered metrics in the node-exporter textfile format.
func (recorder *PrometheusRecorder) WriteTextfile(path string) error {
	if writeError := prom.WriteToTextfile(path, recorder.registry); writeError != nil {
		return fmt.Errorf(textfileWriteErrorTemplate, path, writeError)
	}
	return nil
}
