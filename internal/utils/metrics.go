// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot returns the atomic cell for name, creating it under the write lock.
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	cell, exists := set[name]
	m.mu.RUnlock()
	if exists {
		return cell
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cell, exists = set[name]; !exists {
		cell = new(int64)
		set[name] = cell
	}
	return cell
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	cell, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(cell)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	cell, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(cell)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, cell := range m.counters {
		counters[name] = atomic.LoadInt64(cell)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, cell := range m.gauges {
		gauges[name] = atomic.LoadInt64(cell)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// PipelineMetrics records per-stage outcomes of the atlas pipeline.
type PipelineMetrics struct {
	metrics *MetricsCollector
}

// NewPipelineMetrics creates pipeline metrics backed by the given collector
// (the global one when nil).
func NewPipelineMetrics(collector *MetricsCollector) *PipelineMetrics {
	if collector == nil {
		collector = GetMetricsCollector()
	}
	return &PipelineMetrics{metrics: collector}
}

// RecordStage records one stage run. fellBack is true when placeholder data was used.
func (pm *PipelineMetrics) RecordStage(stage string, fellBack bool, duration time.Duration) {
	pm.metrics.IncrementCounter("pipeline_stage_" + stage + "_total")
	if fellBack {
		pm.metrics.IncrementCounter("pipeline_stage_" + stage + "_fallback")
	}
	pm.metrics.RecordHistogram("pipeline_stage_"+stage+"_ms", duration.Milliseconds())

	GetLogger().Debug("pipeline stage finished",
		zap.String("stage", stage),
		zap.Bool("fallback", fellBack),
		zap.Duration("duration", duration))
}

// RunStarted / RunFinished track the number of in-flight pipeline runs.
func (pm *PipelineMetrics) RunStarted() {
	pm.metrics.IncrementCounter("pipeline_runs_total")
	pm.metrics.IncGauge("pipeline_runs_active")
}

func (pm *PipelineMetrics) RunFinished(status string) {
	pm.metrics.DecGauge("pipeline_runs_active")
	pm.metrics.IncrementCounter("pipeline_runs_" + status)
}

// RecordAPIRequest records metrics for an API request
func (pm *PipelineMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	pm.metrics.IncrementCounter("api_requests_total")
	pm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	pm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	pm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// Snapshot 返回底层采集器的快照
func (pm *PipelineMetrics) Snapshot() map[string]interface{} {
	return pm.metrics.GetMetrics()
}
