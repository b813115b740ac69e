package routing

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

const (
	MetricSuccessRate = "success_rate"
	MetricLatency     = "latency_ms"
)

type PerformanceOptions struct {
	// WindowSize bounds the samples kept per tool.
	WindowSize int
	// MinSuccessRate and MaxLatencyMs are the threshold bounds. A zero
	// MaxLatencyMs disables the latency check.
	MinSuccessRate float64
	MaxLatencyMs   float64
	// MinSamples is how many samples a tool needs before thresholds and
	// trends are evaluated.
	MinSamples int
	// TrendDelta is the success rate change between window halves that
	// counts as a trend.
	TrendDelta float64
}

func DefaultPerformanceOptions() PerformanceOptions {
	return PerformanceOptions{
		WindowSize:     50,
		MinSuccessRate: 0.8,
		MaxLatencyMs:   5000,
		MinSamples:     5,
		TrendDelta:     0.1,
	}
}

func (o PerformanceOptions) withDefaults() PerformanceOptions {
	d := DefaultPerformanceOptions()
	if o.WindowSize <= 0 {
		o.WindowSize = d.WindowSize
	}
	if o.MinSuccessRate <= 0 {
		o.MinSuccessRate = d.MinSuccessRate
	}
	if o.MinSamples <= 0 {
		o.MinSamples = d.MinSamples
	}
	if o.TrendDelta <= 0 {
		o.TrendDelta = d.TrendDelta
	}
	return o
}

// breachState debounces one metric of one tool: the event fires on the
// second consecutive breach and re-arms once the metric recovers.
type breachState struct {
	consecutive int
	fired       bool
}

func (b *breachState) observe(breached bool) bool {
	if !breached {
		b.consecutive = 0
		b.fired = false
		return false
	}
	b.consecutive++
	if b.consecutive >= 2 && !b.fired {
		b.fired = true
		return true
	}
	return false
}

type toolWindow struct {
	samples []models.ExecutionSample
	trend   models.Trend
	success breachState
	latency breachState
}

// PerformanceMonitor keeps a rolling window of executions per tool.
type PerformanceMonitor struct {
	mu    sync.RWMutex
	tools map[string]*toolWindow
	opts  PerformanceOptions
	sink  ports.EventSink
}

func NewPerformanceMonitor(opts PerformanceOptions, sink ports.EventSink) *PerformanceMonitor {
	if sink == nil {
		sink = ports.NopEventSink{}
	}
	return &PerformanceMonitor{
		tools: make(map[string]*toolWindow),
		opts:  opts.withDefaults(),
		sink:  sink,
	}
}

// Record adds a sample, recomputes the trend and publishes threshold events.
func (m *PerformanceMonitor) Record(toolID string, sample models.ExecutionSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	m.mu.Lock()
	w, ok := m.tools[toolID]
	if !ok {
		w = &toolWindow{trend: models.TrendStable}
		m.tools[toolID] = w
	}
	w.samples = append(w.samples, sample)
	if over := len(w.samples) - m.opts.WindowSize; over > 0 {
		w.samples = slices.Delete(w.samples, 0, over)
	}
	w.trend = m.trend(w.samples)

	var breaches []models.ThresholdBreach
	if len(w.samples) >= m.opts.MinSamples {
		rate, avg, _ := summarize(w.samples)
		if w.success.observe(rate < m.opts.MinSuccessRate) {
			breaches = append(breaches, models.ThresholdBreach{Metric: MetricSuccessRate, Value: rate, Threshold: m.opts.MinSuccessRate})
		}
		if m.opts.MaxLatencyMs > 0 && w.latency.observe(avg > m.opts.MaxLatencyMs) {
			breaches = append(breaches, models.ThresholdBreach{Metric: MetricLatency, Value: avg, Threshold: m.opts.MaxLatencyMs})
		}
	}
	m.mu.Unlock()

	for _, b := range breaches {
		ev := models.NewEvent(models.EventPerformanceThreshold, b)
		ev.ToolID = toolID
		m.sink.Publish(ev)
	}
}

// trend compares the older and newer half of the window.
func (m *PerformanceMonitor) trend(samples []models.ExecutionSample) models.Trend {
	if len(samples) < 2*m.opts.MinSamples {
		return models.TrendStable
	}
	half := len(samples) / 2
	oldRate, oldAvg, _ := summarize(samples[:half])
	newRate, newAvg, _ := summarize(samples[half:])

	switch {
	case newRate < oldRate-m.opts.TrendDelta:
		return models.TrendDegrading
	case newRate > oldRate+m.opts.TrendDelta:
		return models.TrendImproving
	case oldAvg > 0 && newAvg > oldAvg*1.25:
		return models.TrendDegrading
	case oldAvg > 0 && newAvg < oldAvg*0.8:
		return models.TrendImproving
	}
	return models.TrendStable
}

func summarize(samples []models.ExecutionSample) (rate, avg, p95 float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	ok := 0
	latencies := make([]float64, 0, len(samples))
	var sum float64
	for _, s := range samples {
		if s.Success {
			ok++
		}
		sum += s.DurationMs
		latencies = append(latencies, s.DurationMs)
	}
	slices.Sort(latencies)
	idx := int(math.Ceil(0.95*float64(len(latencies)))) - 1
	n := float64(len(samples))
	return float64(ok) / n, sum / n, latencies[max(idx, 0)]
}

// Metrics summarizes a tool's window. Tools without samples report a zero
// summary with a stable trend.
func (m *PerformanceMonitor) Metrics(toolID string) models.PerformanceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := models.PerformanceMetrics{ToolID: toolID, Trend: models.TrendStable}
	w, ok := m.tools[toolID]
	if !ok || len(w.samples) == 0 {
		return out
	}
	out.Samples = len(w.samples)
	out.SuccessRate, out.AverageLatencyMs, out.P95LatencyMs = summarize(w.samples)
	out.Trend = w.trend
	out.LastExecuted = w.samples[len(w.samples)-1].Timestamp
	return out
}

// RecentSamples returns up to n of the newest samples, newest first.
func (m *PerformanceMonitor) RecentSamples(toolID string, n int) []models.ExecutionSample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.tools[toolID]
	if !ok || n <= 0 {
		return nil
	}
	count := min(n, len(w.samples))
	out := make([]models.ExecutionSample, 0, count)
	for i := len(w.samples) - 1; i >= len(w.samples)-count; i-- {
		out = append(out, w.samples[i])
	}
	return out
}

// Forget drops the window of a tool that left the catalog.
func (m *PerformanceMonitor) Forget(toolID string) {
	m.mu.Lock()
	delete(m.tools, toolID)
	m.mu.Unlock()
}

// Tracked lists the tool ids with samples.
func (m *PerformanceMonitor) Tracked() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tools))
	for id := range m.tools {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
