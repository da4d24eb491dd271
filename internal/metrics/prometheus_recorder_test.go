package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/monorun/internal/cache"
	"github.com/tyemirov/monorun/internal/metrics"
)

var (
	_ metrics.Recorder      = (*metrics.PrometheusRecorder)(nil)
	_ metrics.Recorder      = metrics.NoopRecorder{}
	_ cache.RequestObserver = (*metrics.PrometheusRecorder)(nil)
)

func TestPrometheusRecorder(testInstance *testing.T) {
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	recorder.ObserveTaskDuration("build", "success", 150*time.Millisecond)
	recorder.IncTaskResult("success")
	recorder.IncTaskResult("success")
	recorder.IncTaskResult("cached")
	recorder.ObserveCacheRequest(cache.SourceLocal, cache.ResultMiss)
	recorder.ObserveCacheRequest(cache.SourceRemote, cache.ResultHit)
	recorder.SetRunningTasks(3)

	families, gatherError := registry.Gather()
	require.NoError(testInstance, gatherError)

	seriesCounts := make(map[string]int, len(families))
	for _, family := range families {
		seriesCounts[family.GetName()] = len(family.GetMetric())
	}
	require.Equal(testInstance, map[string]int{
		"monorun_task_duration_seconds": 1,
		"monorun_task_results_total":    2,
		"monorun_cache_requests_total":  2,
		"monorun_running_tasks":         1,
	}, seriesCounts)
}

func TestPrometheusRecorderWriteTextfile(testInstance *testing.T) {
	recorder := metrics.NewPrometheusRecorder(nil)
	recorder.IncTaskResult("failed")
	recorder.ObserveCacheRequest(cache.SourceLocal, cache.ResultHit)

	path := filepath.Join(testInstance.TempDir(), "monorun.prom")
	require.NoError(testInstance, recorder.WriteTextfile(path))

	content, readError := os.ReadFile(path)
	require.NoError(testInstance, readError)
	require.Contains(testInstance, string(content), `monorun_task_results_total{status="failed"} 1`)
	require.Contains(testInstance, string(content), `monorun_cache_requests_total{result="hit",source="local"} 1`)
}
