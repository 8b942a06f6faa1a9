// internal/utils/metrics_test.go
package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_ConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.AddCounter("bytes", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue("hits"))
	assert.Equal(t, int64(500), m.GetCounterValue("bytes"))
	assert.Zero(t, m.GetCounterValue("missing"))
}

func TestMetricsCollector_Histogram(t *testing.T) {
	m := NewMetricsCollector()
	for _, v := range []int64{30, 10, 20} {
		m.RecordHistogram("latency", v)
	}

	histograms := m.GetMetrics()["histograms"].(map[string]map[string]int64)
	require.Contains(t, histograms, "latency")
	assert.Equal(t, int64(3), histograms["latency"]["count"])
	assert.Equal(t, int64(60), histograms["latency"]["sum"])
	assert.Equal(t, int64(10), histograms["latency"]["min"])
	assert.Equal(t, int64(30), histograms["latency"]["max"])
}

func TestPipelineMetrics(t *testing.T) {
	m := NewMetricsCollector()
	pm := NewPipelineMetrics(m)

	pm.RunStarted()
	pm.RecordStage("timeline", false, 5*time.Millisecond)
	pm.RecordStage("timeline", true, 7*time.Millisecond)
	assert.Equal(t, int64(1), m.GetGauge("pipeline_runs_active"))
	pm.RunFinished("completed")

	assert.Equal(t, int64(2), m.GetCounterValue("pipeline_stage_timeline_total"))
	assert.Equal(t, int64(1), m.GetCounterValue("pipeline_stage_timeline_fallback"))
	assert.Equal(t, int64(0), m.GetGauge("pipeline_runs_active"))
	assert.Equal(t, int64(1), m.GetCounterValue("pipeline_runs_completed"))

	pm.RecordAPIRequest("/api/chat", "POST", 429, time.Millisecond)
	assert.Equal(t, int64(1), m.GetCounterValue("api_responses_4xx"))
}

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"", "info", "DEBUG", "warn", "warning", "error"} {
		_, err := ParseLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
